package main

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [identifier...]",
		Short: "Print the canonical key of each identifier",
		Long: `Print the canonical key of each identifier, one per line.

With no arguments identifiers are read from stdin, one per line.

Examples:
  vanctl normalize "van 7" VAN_12_1
  cut -d, -f1 fleet.csv | vanctl normalize`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				sc := bufio.NewScanner(cmd.InOrStdin())
				for sc.Scan() {
					args = append(args, sc.Text())
				}
				if err := sc.Err(); err != nil {
					return err
				}
			}
			failed := 0
			for _, raw := range args {
				key, err := domain.Normalize(raw)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%q: %v\n", raw, err)
					failed++
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), key)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d identifiers could not be normalized", failed, len(args))
			}
			return nil
		},
	}
}
