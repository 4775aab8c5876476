// Command ingest runs the fleet ingest worker: it consumes mention and image
// messages from NATS and applies them to the configured store. Any number of
// workers may share the queue group.
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
	"github.com/WessleyAI/vanfleet/pkg/mid"
)

func main() {
	var (
		configPath  = flag.String("config", os.Getenv("FLEET_CONFIG"), "path to YAML config file")
		metricsAddr = flag.String("metrics", ":9091", "metrics listen address, empty to disable")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, *metricsAddr, logger); err != nil {
		logger.Error("ingest worker exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, logger *slog.Logger) error {
	if cfg.NATS.URL == "" {
		return errors.New("NATS_URL is required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, "fleet-ingest", logger)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := metrics.New()
	fleet := metrics.NewFleet(reg)
	consumer := ingest.NewConsumer(b.NC, b.Service(fleet, logger), ingest.ConsumerOpts{
		Queue:      cfg.NATS.Queue,
		MaxRetries: cfg.NATS.MaxRetries,
	})
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	logger.Info("ingest worker started", "url", cfg.NATS.URL, "queue", cfg.NATS.Queue, "store", cfg.Store.Backend)

	var srv *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", reg.Handler())
		mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
			status := http.StatusOK
			if !b.NC.IsConnected() {
				status = http.StatusServiceUnavailable
			}
			mid.JSON(w, status, map[string]string{"nats": b.NC.Status().String()})
		})
		srv = &http.Server{Addr: metricsAddr, Handler: mid.Recover(logger)(mux), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")
	if srv != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}
	return consumer.Stop()
}
