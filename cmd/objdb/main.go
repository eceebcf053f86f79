// Package main is the entry point for the objdb command.
//
// objdb stores object graphs as JSON documents in a data directory, one table
// per type. Configuration is read from objdb.yaml in the data directory and
// can be overridden with CLI flags.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/maruel/objdb/internal/cli"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "objdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	return cmd.ExecuteContext(ctx)
}
