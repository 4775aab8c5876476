package recon

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

// RecordStore reads and writes canonical vehicle records. Get reports
// found=false, not an error, for an unknown key. Keys compare by Fold.
type RecordStore interface {
	Get(ctx context.Context, key domain.CanonicalKey) (domain.VehicleRecord, bool, error)
	Put(ctx context.Context, rec domain.VehicleRecord) error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context) ([]domain.VehicleRecord, error)
}

// Deleter is implemented by stores that can remove a record. Seen
// fingerprints are kept so a re-created van does not re-accept old photos.
type Deleter interface {
	Delete(ctx context.Context, key domain.CanonicalKey) error
}

// MemoryStore is a process-local RecordStore. Records are cloned on the way
// in and out so callers never share attribute maps with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]domain.VehicleRecord
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]domain.VehicleRecord)}
}

func (m *MemoryStore) Get(_ context.Context, key domain.CanonicalKey) (domain.VehicleRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[key.Fold()]
	if !ok {
		return domain.VehicleRecord{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *MemoryStore) Put(_ context.Context, rec domain.VehicleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Key.Fold()] = rec.Clone()
	return nil
}

// Delete removes key. Deleting an unknown key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key domain.CanonicalKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, key.Fold())
	return nil
}

// List returns every record ordered by key.
func (m *MemoryStore) List(_ context.Context) ([]domain.VehicleRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.VehicleRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b domain.VehicleRecord) int {
		return strings.Compare(a.Key.Fold(), b.Key.Fold())
	})
	return out, nil
}
