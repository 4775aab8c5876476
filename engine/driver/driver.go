// Package driver keeps per-driver upload statistics.
package driver

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// Record folds one accepted damage report into stats. The average is a
// running mean of clamped severities rounded to two decimals.
func Record(stats domain.DriverStats, severity int, at time.Time) domain.DriverStats {
	sev := float64(domain.ClampSeverity(severity))
	total := stats.AvgDamage*float64(stats.Reports) + sev
	stats.Reports++
	stats.Uploads++
	stats.AvgDamage = math.Round(total/float64(stats.Reports)*100) / 100
	if at.After(stats.LastUploadAt) {
		stats.LastUploadAt = at
	}
	return stats
}

// Store persists driver statistics. Get reports found=false for an unknown driver.
type Store interface {
	GetDriver(ctx context.Context, id string) (domain.DriverStats, bool, error)
	PutDriver(ctx context.Context, stats domain.DriverStats) error
}

// Tracker applies reports to a Store. Callers serialize per driver.
type Tracker struct {
	Store Store
}

// Report records a report from driver id and returns the updated stats.
func (t Tracker) Report(ctx context.Context, id string, severity int, at time.Time) (domain.DriverStats, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.DriverStats{}, domain.NewValidationError("driver", id, domain.ErrMissingIdentifier)
	}
	stats, ok, err := t.Store.GetDriver(ctx, id)
	if err != nil {
		return domain.DriverStats{}, err
	}
	if !ok {
		stats = domain.DriverStats{DriverID: id}
	}
	stats = Record(stats, severity, at)
	if err := t.Store.PutDriver(ctx, stats); err != nil {
		return domain.DriverStats{}, err
	}
	return stats, nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]domain.DriverStats
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[string]domain.DriverStats)}
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (domain.DriverStats, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.drivers[id]
	return s, ok, nil
}

func (m *MemoryStore) PutDriver(_ context.Context, stats domain.DriverStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[stats.DriverID] = stats
	return nil
}
