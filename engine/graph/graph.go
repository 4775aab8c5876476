package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/vanfleet/engine/dedup"
	"github.com/WessleyAI/vanfleet/engine/domain"
	"github.com/WessleyAI/vanfleet/pkg/repo"
)

// listPage is the page size List reads vans with.
const listPage = 500

// Store is the Neo4j-backed record, fingerprint and driver store.
type Store struct {
	opener  repo.Opener
	vans    *repo.Neo4jRepo[domain.VehicleRecord, string]
	drivers *repo.Neo4jRepo[domain.DriverStats, string]
	logger  *slog.Logger
}

// New creates a Store that opens sessions through opener.
func New(opener repo.Opener, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		opener: opener,
		vans: repo.NewNeo4jRepo[domain.VehicleRecord, string](
			opener, LabelVan, vanToMap, vanFromRecord,
			repo.WithIDKey[domain.VehicleRecord, string]("key_fold"),
		),
		drivers: repo.NewNeo4jRepo[domain.DriverStats, string](
			opener, LabelDriver, driverToMap, driverFromRecord,
		),
		logger: logger,
	}
}

// NewFromDriver creates a Store on a live driver and database ("" = default).
func NewFromDriver(driver neo4j.DriverWithContext, database string, logger *slog.Logger) *Store {
	return New(repo.DriverOpener(driver, database), logger)
}

// EnsureSchema creates the uniqueness constraints the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE CONSTRAINT van_key_fold IF NOT EXISTS FOR (n:Van) REQUIRE n.key_fold IS UNIQUE",
		"CREATE CONSTRAINT image_id IF NOT EXISTS FOR (n:Image) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT driver_id IF NOT EXISTS FOR (n:Driver) REQUIRE n.id IS UNIQUE",
	}
	for _, stmt := range stmts {
		if err := repo.Exec(ctx, s.opener, stmt, nil); err != nil {
			return fmt.Errorf("graph: ensure schema: %w", err)
		}
	}
	return nil
}

// Get returns the van stored under key.
func (s *Store) Get(ctx context.Context, key domain.CanonicalKey) (domain.VehicleRecord, bool, error) {
	rec, err := s.vans.Get(ctx, key.Fold())
	if errors.Is(err, repo.ErrNotFound) {
		return domain.VehicleRecord{}, false, nil
	}
	if err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("graph: get van %s: %w", key, err)
	}
	return rec, true, nil
}

// Put upserts the van node and attaches any images recorded before the van existed.
func (s *Store) Put(ctx context.Context, rec domain.VehicleRecord) error {
	if err := s.vans.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("graph: put van %s: %w", rec.Key, err)
	}
	cypher := `MATCH (v:Van {key_fold: $key}), (i:Image {key_fold: $key})
		MERGE (v)-[:HAS_IMAGE]->(i)`
	if err := repo.Exec(ctx, s.opener, cypher, map[string]any{"key": rec.Key.Fold()}); err != nil {
		return fmt.Errorf("graph: link images %s: %w", rec.Key, err)
	}
	return nil
}

// List returns every van ordered by folded key.
func (s *Store) List(ctx context.Context) ([]domain.VehicleRecord, error) {
	var out []domain.VehicleRecord
	for offset := 0; ; offset += listPage {
		page, err := s.vans.List(ctx, repo.ListOpts{Offset: offset, Limit: listPage})
		if err != nil {
			return nil, fmt.Errorf("graph: list vans: %w", err)
		}
		out = append(out, page...)
		if len(page) < listPage {
			return out, nil
		}
	}
}

// Delete removes a van and its image links.
func (s *Store) Delete(ctx context.Context, key domain.CanonicalKey) error {
	if err := s.vans.Delete(ctx, key.Fold()); err != nil {
		return fmt.Errorf("graph: delete van %s: %w", key, err)
	}
	return nil
}

// Seen reports whether the (key, fp) pair has an Image node.
func (s *Store) Seen(ctx context.Context, key domain.CanonicalKey, fp dedup.Fingerprint) (bool, error) {
	recs, err := repo.Collect(ctx, s.opener,
		`MATCH (i:Image {id: $id}) RETURN count(i) AS c`,
		map[string]any{"id": imageID(key.Fold(), fp.String())})
	if err != nil {
		return false, fmt.Errorf("graph: seen %s: %w", key, err)
	}
	if len(recs) == 0 {
		return false, nil
	}
	v, _ := recs[0].Get("c")
	n, _ := v.(int64)
	return n > 0, nil
}

// MarkSeen creates the Image node for (key, fp) and links it to the van
// when the van exists. first_seen_at is set only on creation.
func (s *Store) MarkSeen(ctx context.Context, key domain.CanonicalKey, fp dedup.Fingerprint, at time.Time) error {
	cypher := `MERGE (i:Image {id: $id})
		ON CREATE SET i.fingerprint = $fp, i.key_fold = $key, i.first_seen_at = $at
		WITH i
		OPTIONAL MATCH (v:Van {key_fold: $key})
		FOREACH (_ IN CASE WHEN v IS NULL THEN [] ELSE [1] END | MERGE (v)-[:HAS_IMAGE]->(i))`
	err := repo.Exec(ctx, s.opener, cypher, map[string]any{
		"id":  imageID(key.Fold(), fp.String()),
		"fp":  fp.String(),
		"key": key.Fold(),
		"at":  at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("graph: mark seen %s: %w", key, err)
	}
	return nil
}

// Images returns the fingerprints recorded for key, oldest first.
func (s *Store) Images(ctx context.Context, key domain.CanonicalKey) ([]domain.SeenFingerprint, error) {
	recs, err := repo.Collect(ctx, s.opener,
		`MATCH (i:Image {key_fold: $key})
		 RETURN i.fingerprint AS fingerprint, i.first_seen_at AS first_seen_at
		 ORDER BY first_seen_at`,
		map[string]any{"key": key.Fold()})
	if err != nil {
		return nil, fmt.Errorf("graph: images %s: %w", key, err)
	}
	out := make([]domain.SeenFingerprint, 0, len(recs))
	for _, rec := range recs {
		props := rec.AsMap()
		out = append(out, domain.SeenFingerprint{
			VehicleKey:  key,
			Fingerprint: strProp(props, "fingerprint"),
			FirstSeenAt: timeProp(props, "first_seen_at"),
		})
	}
	return out, nil
}

// GetDriver returns the stats for driver id.
func (s *Store) GetDriver(ctx context.Context, id string) (domain.DriverStats, bool, error) {
	stats, err := s.drivers.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.DriverStats{}, false, nil
	}
	if err != nil {
		return domain.DriverStats{}, false, fmt.Errorf("graph: get driver %s: %w", id, err)
	}
	return stats, true, nil
}

// PutDriver upserts the driver node.
func (s *Store) PutDriver(ctx context.Context, stats domain.DriverStats) error {
	if err := s.drivers.Upsert(ctx, stats); err != nil {
		return fmt.Errorf("graph: put driver %s: %w", stats.DriverID, err)
	}
	return nil
}
