// Package backend opens the stores and connections named by configuration
// and wires the ingest service onto them.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/engine/dedup"
	"github.com/WessleyAI/vanfleet/engine/driver"
	"github.com/WessleyAI/vanfleet/engine/graph"
	"github.com/WessleyAI/vanfleet/engine/ingest"
	"github.com/WessleyAI/vanfleet/engine/pgstore"
	"github.com/WessleyAI/vanfleet/engine/recon"
	"github.com/WessleyAI/vanfleet/engine/semantic"
	"github.com/WessleyAI/vanfleet/internal/config"
	"github.com/WessleyAI/vanfleet/pkg/keylock"
	"github.com/WessleyAI/vanfleet/pkg/metrics"
	"github.com/WessleyAI/vanfleet/pkg/natsutil"
)

// Backend holds the stores and connections selected by configuration.
type Backend struct {
	Records recon.RecordStore
	Seen    dedup.SeenStore
	Drivers driver.Store
	Graph   *graph.Store      // set for the neo4j backend
	Archive *semantic.Archive // set when qdrant is configured
	NC      *nats.Conn        // set when nats is configured

	// Locks serializes per-van updates. It spans processes whenever the
	// records live outside this process.
	Locks keylock.Locker

	closers []func()
}

// Memory keeps everything in process.
func Memory() *Backend {
	return &Backend{
		Records: recon.NewMemoryStore(),
		Seen:    dedup.NewMemoryStore(),
		Drivers: driver.NewMemoryStore(),
		Locks:   keylock.New(),
	}
}

// Open connects everything cfg enables. The memory stores back whatever is
// not configured. name identifies the NATS connection.
func Open(ctx context.Context, cfg *config.Config, name string, log *slog.Logger) (*Backend, error) {
	b := Memory()
	if err := b.open(ctx, cfg, name, log); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) open(ctx context.Context, cfg *config.Config, name string, log *slog.Logger) error {
	switch cfg.Store.Backend {
	case config.BackendNeo4j:
		if err := b.openNeo4j(ctx, cfg.Neo4j, log); err != nil {
			return err
		}
	case config.BackendPostgres:
		if err := b.openPostgres(ctx, cfg.Postgres, log); err != nil {
			return err
		}
	}

	if cfg.Redis.Addr != "" {
		rdb, err := dedup.DialRedis(ctx, dedup.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = rdb.Close() })
		b.Seen = dedup.NewRedisStoreWithClient(rdb, cfg.Redis.Prefix, cfg.Redis.TTL)
		b.Locks = keylock.NewRedis(rdb, cfg.Redis.LockPrefix, cfg.Redis.LockTTL)
		log.Info("fingerprints and van locks in redis", "addr", cfg.Redis.Addr)
	}

	if cfg.Qdrant.Addr != "" {
		a, err := semantic.Open(cfg.Qdrant.Addr, cfg.Qdrant.Collection)
		if err != nil {
			return err
		}
		b.closers = append(b.closers, func() { _ = a.Close() })
		if err := a.EnsureCollection(ctx); err != nil {
			return err
		}
		b.Archive = a
		log.Info("observation archive enabled", "addr", cfg.Qdrant.Addr, "collection", cfg.Qdrant.Collection)
	}

	if cfg.NATS.URL != "" {
		nc, err := natsutil.Connect(cfg.NATS.URL, name, log)
		if err != nil {
			return err
		}
		b.NC = nc
		b.closers = append(b.closers, nc.Close)
	}
	return nil
}

func (b *Backend) openNeo4j(ctx context.Context, cfg config.Neo4jConfig, log *slog.Logger) error {
	drv, err := neo4j.NewDriverWithContext(cfg.URL, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j driver: %w", err)
	}
	b.closers = append(b.closers, func() { _ = drv.Close(context.Background()) })
	if err := drv.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j connect %s: %w", cfg.URL, err)
	}
	g := graph.NewFromDriver(drv, cfg.Database, log)
	if err := g.EnsureSchema(ctx); err != nil {
		return err
	}
	b.Records, b.Seen, b.Drivers, b.Graph = g, g, g, g
	log.Info("records in neo4j", "url", cfg.URL, "database", cfg.Database)
	return nil
}

func (b *Backend) openPostgres(ctx context.Context, cfg config.PostgresConfig, log *slog.Logger) error {
	if cfg.Migrate {
		if err := pgstore.MigrateUp(cfg.URL); err != nil {
			return err
		}
	}
	pool, err := pgstore.Open(ctx, pgstore.Config{
		URL:             cfg.URL,
		MaxConnections:  cfg.MaxConnections,
		MaxConnLifetime: cfg.MaxConnLifetime,
	})
	if err != nil {
		return err
	}
	b.closers = append(b.closers, pool.Close)
	s := pgstore.New(pool, log)
	b.Records, b.Seen, b.Drivers = s, s, s
	b.Locks = pgstore.NewAdvisoryLocker(pool)
	log.Info("records in postgres")
	return nil
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Service wires an ingest service onto the backend. Events go to NATS when
// it is connected.
func (b *Backend) Service(fleet *metrics.Fleet, log *slog.Logger) *ingest.Service {
	deps := ingest.Deps{
		Reconciler: recon.New(b.Records, b.Seen, log),
		Drivers:    b.Drivers,
		Locks:      b.Locks,
		Metrics:    fleet,
		Logger:     log,
	}
	if b.Archive != nil {
		deps.Archive = b.Archive
	}
	if b.NC != nil {
		deps.Events = ingest.NATSEmitter{Conn: b.NC}
	}
	return ingest.New(deps)
}
