// Package main runs the fleet reconciliation server: an HTTP API over the
// record store plus, when NATS is configured, the ingest consumer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/vanfleet/engine/ingest"
	"github.com/WessleyAI/vanfleet/internal/backend"
	"github.com/WessleyAI/vanfleet/internal/config"
	"github.com/WessleyAI/vanfleet/pkg/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("FLEET_CONFIG"), "path to YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: api [-config file]\n\n")
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, "vanfleet-api", logger)
	if err != nil {
		return err
	}
	defer b.Close()

	fleet := metrics.NewFleet(metrics.New())
	svc := b.Service(fleet, logger)

	if b.NC != nil {
		consumer := ingest.NewConsumer(b.NC, svc, ingest.ConsumerOpts{
			Queue:      cfg.NATS.Queue,
			MaxRetries: cfg.NATS.MaxRetries,
		})
		if err := consumer.Start(); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		defer consumer.Stop()
		logger.Info("ingest consumer started", "url", cfg.NATS.URL, "queue", cfg.NATS.Queue)
	}

	api := newServer(svc, b, fleet, logger)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Handler(cfg.HTTP),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.HTTP.Addr, "store", cfg.Store.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
