package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/maruel/objdb/internal/docstore"
	"github.com/maruel/objdb/internal/query"
	"github.com/maruel/objdb/internal/schema"
)

// Row is the JSON output of one object.
type Row struct {
	Type     string            `json:"type"`
	ID       schema.ID         `json:"id"`
	Document docstore.Document `json:"document"`
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <id>",
		Short: "Load one object by identifier",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeStore(s, &err)
			p, ok, err := s.mapper.LoadByID(args[0], schema.ID(args[1]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s %s not found", args[0], args[1])
			}
			return printObjects(cmd.OutOrStdout(), rootOpts.Format, s, args[0], []schema.Persistable{p})
		},
	}
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "query <type> <expression>",
		Short: "Load every object matching a predicate",
		Long: `Load every object whose stored document matches the expression, e.g.

  objdb query Person "(age.greaterThan(18)) AND NOT (fullName.contains(Doe))"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			q, err := query.Parse(args[1])
			if err != nil {
				return err
			}
			s, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeStore(s, &err)
			ps, err := s.mapper.LoadByQuery(args[0], q)
			if err != nil {
				return err
			}
			return printObjects(cmd.OutOrStdout(), rootOpts.Format, s, args[0], ps)
		},
	}
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <expression>",
		Short: "Print how an expression is parsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(w, map[string]string{"query": q.Text(), "parsed": q.String(), "ignored": q.Trailing()})
			}
			fmt.Fprintln(w, q.String())
			if q.Trailing() != "" {
				fmt.Fprintf(w, "ignored: %q\n", q.Trailing())
			}
			return nil
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <type>",
		Short: "Replace the table of a type with an empty one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeStore(s, &err)
			return s.mapper.ClearStorage(args[0])
		},
	}
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [type]",
		Short: "Print the JSON Schema of stored documents, or list the types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := openStore(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer closeStore(s, &err)
			reg := s.mapper.Registry()
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				if rootOpts.Format == "json" {
					return writeJSON(w, reg.Names())
				}
				for _, name := range reg.Names() {
					fmt.Fprintln(w, name)
				}
				return nil
			}
			js, err := reg.JSONSchema(args[0])
			if err != nil {
				return err
			}
			return writeJSON(w, js)
		},
	}
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			version, goVersion, revision, dirty := getBuildInfo()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "objdb %s\n", version)
			fmt.Fprintf(w, "  Go version: %s\n", goVersion)
			fmt.Fprintf(w, "  Revision:   %s\n", revision)
			if dirty {
				fmt.Fprintf(w, "  Modified:   true\n")
			}
			return nil
		},
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

func printObjects(w io.Writer, format string, s *store, typeName string, ps []schema.Persistable) error {
	if format != "json" {
		for _, p := range ps {
			fmt.Fprintln(w, p)
		}
		return nil
	}
	table, err := s.docs.ReadTable(typeName)
	if err != nil {
		return err
	}
	rows := make([]Row, 0, len(ps))
	for _, p := range ps {
		rows = append(rows, Row{Type: typeName, ID: p.Identifier(), Document: table[p.Identifier().String()]})
	}
	return writeJSON(w, rows)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
