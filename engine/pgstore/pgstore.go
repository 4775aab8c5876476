// Package pgstore persists vans, processed image fingerprints and driver
// statistics in PostgreSQL. The schema ships as embedded migrations.
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"

	"github.com/WessleyAI/vanfleet/engine/dedup"
	"github.com/WessleyAI/vanfleet/engine/domain"
)

// Migrations holds the schema, applied by NewMigrator and cmd/migrate.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Querier is the subset of *pgxpool.Pool the store uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config holds connection settings.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse url: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return pool, nil
}

// NewMigrator returns a migrator over the embedded migrations.
func NewMigrator(dsn string) (*migrate.Migrate, error) {
	source, err := iofs.New(Migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("pgstore: migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration.
func MigrateUp(dsn string) error {
	m, err := NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pgstore: migrate up: %w", err)
	}
	return nil
}

// Store implements the record, fingerprint and driver stores on PostgreSQL.
type Store struct {
	db     Querier
	logger *slog.Logger
}

// New creates a Store on db.
func New(db Querier, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

const vanColumns = `key, attributes, severity, damage_description, affected_sides, status, created_at, updated_at`

// Get returns the van stored under key.
func (s *Store) Get(ctx context.Context, key domain.CanonicalKey) (domain.VehicleRecord, bool, error) {
	row := s.db.QueryRow(ctx, `SELECT `+vanColumns+` FROM vans WHERE key_fold = $1`, key.Fold())
	rec, err := scanVan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.VehicleRecord{}, false, nil
	}
	if err != nil {
		return domain.VehicleRecord{}, false, fmt.Errorf("pgstore: get van %s: %w", key, err)
	}
	return rec, true, nil
}

// Put inserts or replaces the van row.
func (s *Store) Put(ctx context.Context, rec domain.VehicleRecord) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("pgstore: put van %s: %w", rec.Key, err)
	}
	sides := rec.Damage.AffectedSides.Strings()
	_, err = s.db.Exec(ctx, `
		INSERT INTO vans (key_fold, `+vanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key_fold) DO UPDATE SET
			key = EXCLUDED.key,
			attributes = EXCLUDED.attributes,
			severity = EXCLUDED.severity,
			damage_description = EXCLUDED.damage_description,
			affected_sides = EXCLUDED.affected_sides,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		rec.Key.Fold(), rec.Key.String(), attrs, rec.Damage.Severity, rec.Damage.Description,
		sides, string(rec.Damage.Status), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("pgstore: put van %s: %w", rec.Key, err)
	}
	return nil
}

// List returns every van ordered by folded key.
func (s *Store) List(ctx context.Context) ([]domain.VehicleRecord, error) {
	rows, err := s.db.Query(ctx, `SELECT `+vanColumns+` FROM vans ORDER BY key_fold`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list vans: %w", err)
	}
	defer rows.Close()
	var out []domain.VehicleRecord
	for rows.Next() {
		rec, err := scanVan(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: list vans: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list vans: %w", err)
	}
	return out, nil
}

// Delete removes the van row. Its image fingerprints are kept.
func (s *Store) Delete(ctx context.Context, key domain.CanonicalKey) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM vans WHERE key_fold = $1`, key.Fold()); err != nil {
		return fmt.Errorf("pgstore: delete van %s: %w", key, err)
	}
	return nil
}

func scanVan(row pgx.Row) (domain.VehicleRecord, error) {
	var (
		key, desc, status    string
		attrs                []byte
		severity             int
		sides                []string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&key, &attrs, &severity, &desc, &sides, &status, &createdAt, &updatedAt); err != nil {
		return domain.VehicleRecord{}, err
	}
	rec := domain.VehicleRecord{
		Key:        domain.CanonicalKey(key),
		Attributes: make(map[string]string),
		Damage: domain.DamageState{
			Severity:      domain.ClampSeverity(severity),
			Description:   desc,
			AffectedSides: domain.SideSetOf(sides),
			Status:        domain.ParseStatus(status),
		},
		CreatedAt: createdAt.UTC(),
		UpdatedAt: updatedAt.UTC(),
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return domain.VehicleRecord{}, fmt.Errorf("attributes: %w", err)
		}
	}
	return rec, nil
}

// Seen reports whether (key, fp) has been recorded.
func (s *Store) Seen(ctx context.Context, key domain.CanonicalKey, fp dedup.Fingerprint) (bool, error) {
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM van_images WHERE key_fold = $1 AND fingerprint = $2)`,
		key.Fold(), fp.String(),
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("pgstore: seen %s: %w", key, err)
	}
	return seen, nil
}

// MarkSeen records (key, fp). An existing first_seen_at is kept.
func (s *Store) MarkSeen(ctx context.Context, key domain.CanonicalKey, fp dedup.Fingerprint, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO van_images (key_fold, fingerprint, first_seen_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key_fold, fingerprint) DO NOTHING`,
		key.Fold(), fp.String(), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("pgstore: mark seen %s: %w", key, err)
	}
	return nil
}

// GetDriver returns the stats for driver id.
func (s *Store) GetDriver(ctx context.Context, id string) (domain.DriverStats, bool, error) {
	var st domain.DriverStats
	err := s.db.QueryRow(ctx,
		`SELECT driver_id, name, reports, uploads, avg_damage, last_upload_at FROM drivers WHERE driver_id = $1`, id,
	).Scan(&st.DriverID, &st.Name, &st.Reports, &st.Uploads, &st.AvgDamage, &st.LastUploadAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DriverStats{}, false, nil
	}
	if err != nil {
		return domain.DriverStats{}, false, fmt.Errorf("pgstore: get driver %s: %w", id, err)
	}
	st.LastUploadAt = st.LastUploadAt.UTC()
	return st, true, nil
}

// PutDriver inserts or replaces the driver row.
func (s *Store) PutDriver(ctx context.Context, st domain.DriverStats) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (driver_id, name, reports, uploads, avg_damage, last_upload_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (driver_id) DO UPDATE SET
			name = EXCLUDED.name,
			reports = EXCLUDED.reports,
			uploads = EXCLUDED.uploads,
			avg_damage = EXCLUDED.avg_damage,
			last_upload_at = EXCLUDED.last_upload_at`,
		st.DriverID, st.Name, st.Reports, st.Uploads, st.AvgDamage, st.LastUploadAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("pgstore: put driver %s: %w", st.DriverID, err)
	}
	return nil
}
