package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/WessleyAI/vanfleet/engine/domain"
)

type pairKey struct {
	fold string
	fp   Fingerprint
}

// MemoryStore is a process-local SeenStore.
type MemoryStore struct {
	mu   sync.RWMutex
	seen map[pairKey]domain.SeenFingerprint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[pairKey]domain.SeenFingerprint)}
}

func (m *MemoryStore) Seen(_ context.Context, key domain.CanonicalKey, fp Fingerprint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seen[pairKey{key.Fold(), fp}]
	return ok, nil
}

func (m *MemoryStore) MarkSeen(_ context.Context, key domain.CanonicalKey, fp Fingerprint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := pairKey{key.Fold(), fp}
	if _, ok := m.seen[pk]; ok {
		return nil
	}
	m.seen[pk] = domain.SeenFingerprint{VehicleKey: key, Fingerprint: fp.String(), FirstSeenAt: at}
	return nil
}

// Entries returns a snapshot of every recorded pair.
func (m *MemoryStore) Entries() []domain.SeenFingerprint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.SeenFingerprint, 0, len(m.seen))
	for _, s := range m.seen {
		out = append(out, s)
	}
	return out
}

// Len returns the number of recorded pairs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.seen)
}
