// Package main implements vanctl, the operator CLI for normalizing van
// identifiers, merging spreadsheet exports and pushing them into a store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/engine/importer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "vanctl",
		Short:        "Van fleet reconciliation tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", os.Getenv("FLEET_CONFIG"), "path to YAML config file")
	root.AddCommand(newNormalizeCmd(), newMergeCmd(), newPushCmd())
	return root
}

// readRows reads CSV rows from each path in order, or from in when paths
// is empty. "-" also means in.
func readRows(in io.Reader, paths []string) ([]domain.RawRow, error) {
	if len(paths) == 0 {
		paths = []string{"-"}
	}
	var rows []domain.RawRow
	for _, p := range paths {
		got, err := readFile(in, p)
		if err != nil {
			return nil, err
		}
		rows = append(rows, got...)
	}
	return rows, nil
}

func readFile(in io.Reader, path string) ([]domain.RawRow, error) {
	if path == "-" {
		return importer.Read(in)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := importer.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}
