package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/vanfleet/engine/importer"
	"github.com/WessleyAI/vanfleet/engine/merge"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [file.csv...]",
		Short: "Merge spreadsheet rows into one record per van",
		Long: `Merge CSV exports into one record per van. Rows are applied in file
order, so later rows win for every attribute they set. With no files rows
are read from stdin.

Examples:
  vanctl merge march.csv april.csv -o fleet.csv
  vanctl merge fleet.csv --format yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			formatName, _ := cmd.Flags().GetString("format")
			strict, _ := cmd.Flags().GetBool("strict")

			format, err := importer.ParseFormat(formatName)
			if err != nil {
				return err
			}
			rows, err := readRows(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			merged, errs := merge.MergeAll(rows, time.Now().UTC())
			for _, e := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", e)
			}
			if strict && len(errs) > 0 {
				return fmt.Errorf("%d rows rejected", len(errs))
			}

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := importer.Write(w, merged, format); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "merged %d rows into %d vans\n", len(rows), len(merged))
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", "-", "output file, - for stdout")
	cmd.Flags().StringP("format", "f", "csv", "output format: csv, json or yaml")
	cmd.Flags().Bool("strict", false, "fail when any row is rejected")
	return cmd
}
