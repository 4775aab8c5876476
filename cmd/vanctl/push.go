package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/internal/backend"
	"github.com/WessleyAI/vanfleet/internal/config"
	"github.com/WessleyAI/vanfleet/pkg/fn"
	"github.com/WessleyAI/vanfleet/pkg/resilience"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push [file.csv...]",
		Short: "Merge spreadsheet rows into the configured store",
		Long: `Merge CSV exports onto the records in the configured store. Damage
state already stored is kept. Vans are imported in batches; all rows of one
van stay in the same batch so their order is preserved.

Examples:
  FLEET_STORE=postgres vanctl push fleet.csv
  vanctl push --config fleet.yaml --batch 50 --concurrency 8 a.csv b.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			batch, _ := cmd.Flags().GetInt("batch")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			rate, _ := cmd.Flags().GetFloat64("rate")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			log := cfg.Log.NewLogger(cmd.ErrOrStderr())

			rows, err := readRows(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			b, err := backend.Open(ctx, cfg, "vanctl", log)
			if err != nil {
				return err
			}
			defer b.Close()
			svc := b.Service(nil, log)
			lim := resilience.NewLimiter(resilience.LimiterOpts{Rate: rate, Burst: 1})

			var (
				mu     sync.Mutex
				vans   int
				failed []error
			)
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(concurrency, 1))
			for _, chunk := range batchByKey(rows, batch) {
				g.Go(func() error {
					if err := lim.Wait(gctx); err != nil {
						return err
					}
					merged, errs := svc.Import(gctx, chunk)
					mu.Lock()
					defer mu.Unlock()
					vans += len(merged)
					failed = append(failed, errs...)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, e := range failed {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", e)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d vans from %d rows (%d rejected)\n", vans, len(rows), len(failed))
			return nil
		},
	}
	cmd.Flags().Int("batch", 100, "vans per import call")
	cmd.Flags().Int("concurrency", 4, "import calls in flight")
	cmd.Flags().Float64("rate", 0, "import calls per second, 0 for unlimited")
	return cmd
}

// batchByKey groups rows by van, keeping first-appearance order, and packs
// up to n vans into each batch. Rows without a usable key form their own
// group so the import reports them.
func batchByKey(rows []domain.RawRow, n int) [][]domain.RawRow {
	if n <= 0 {
		n = 1
	}
	var groups [][]domain.RawRow
	index := make(map[string]int)
	for _, row := range rows {
		fold := ""
		if key, err := domain.RowKey(domain.CanonicalRow(row)); err == nil {
			fold = key.Fold()
		}
		i, ok := index[fold]
		if !ok {
			i = len(groups)
			index[fold] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}

	return fn.Map(fn.Chunk(groups, n), func(chunk [][]domain.RawRow) []domain.RawRow {
		var out []domain.RawRow
		for _, g := range chunk {
			out = append(out, g...)
		}
		return out
	})
}
