// Package cli implements the objdb command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	DataDir  string
	LogLevel string
	Format   string // "json" | "text"

	// Overrides of objdb.yaml. Empty means unset.
	Backend    string
	Cache      string
	IDStrategy string
	Watch      bool
	watchSet   bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the objdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "objdb",
		Short: "objdb - embedded JSON object store",
		Long: `Stores object graphs as JSON documents, one table per type, and
answers lookups by identifier or by boolean predicates over stored fields.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.watchSet = cmd.Flags().Changed("watch")
			return setupLogging(cmd.ErrOrStderr(), opts.LogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "./data", "data directory")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend (file|sqlite), overrides objdb.yaml")
	cmd.PersistentFlags().StringVar(&opts.Cache, "cache", "", "instance cache lifetime (store|call), overrides objdb.yaml")
	cmd.PersistentFlags().StringVar(&opts.IDStrategy, "id-strategy", "", "identifier strategy (uuid|ksid|sequential), overrides objdb.yaml")
	cmd.PersistentFlags().BoolVar(&opts.Watch, "watch", false, "drop cached instances when tables change on disk, overrides objdb.yaml")

	cmd.AddCommand(NewDemoCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}
