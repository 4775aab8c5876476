// Command backfill moves records stored under non-canonical keys, such as
// van_7 or van_12_1 written by older imports, onto their canonical key and
// folds them into any record already there.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/WessleyAI/vanfleet/engine/recon"
	"github.com/WessleyAI/vanfleet/internal/backend"
	"github.com/WessleyAI/vanfleet/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("FLEET_CONFIG"), "path to YAML config file")
		dryRun     = flag.Bool("dry-run", false, "report what would change without writing")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	b, err := backend.Open(ctx, cfg, "backfill", logger)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer b.Close()

	if err := run(ctx, recon.New(b.Records, b.Seen, logger), *dryRun, os.Stdout); err != nil {
		logger.Error("backfill failed", "err", err)
		b.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, r *recon.Reconciler, dryRun bool, out io.Writer) error {
	rekeys, err := r.Canonicalize(ctx, dryRun)
	for _, rk := range rekeys {
		action := "moved"
		if rk.Merged {
			action = "merged"
		}
		fmt.Fprintf(out, "%-7s %s -> %s\n", action, rk.From, rk.To)
	}
	if err != nil {
		return err
	}

	merged := 0
	for _, rk := range rekeys {
		if rk.Merged {
			merged++
		}
	}
	verb := "rekeyed"
	if dryRun {
		verb = "would rekey"
	}
	fmt.Fprintf(out, "%s %d records (%d merged into existing vans)\n", verb, len(rekeys), merged)
	return nil
}
