// Package keylock serializes work per string key. Locks for idle keys are
// released so the map does not grow with the number of keys ever seen.
//
// Map only serializes within one process. Processes sharing a store use a
// Locker that spans them: Redis here, or a Postgres advisory lock.
package keylock

import (
	"context"
	"fmt"
	"sync"
)

// Locker hands out exclusive holds on keys.
type Locker interface {
	// Acquire blocks until key is held or ctx is done. The returned
	// function releases the hold.
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}

type entry struct {
	sem  chan struct{}
	refs int
}

// Map hands out one in-process lock per key.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

func (m *Map) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Map) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// Acquire blocks until key is held or ctx is done.
func (m *Map) Acquire(ctx context.Context, key string) (func(), error) {
	e := m.ref(key)
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, e)
		return nil, fmt.Errorf("keylock: acquire %s: %w", key, ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			m.unref(key, e)
		})
	}, nil
}

// Lock blocks until key is held and returns the function that releases it.
func (m *Map) Lock(key string) (unlock func()) {
	unlock, _ = m.Acquire(context.Background(), key)
	return unlock
}

// Do runs f while holding key.
func (m *Map) Do(key string, f func() error) error {
	unlock := m.Lock(key)
	defer unlock()
	return f()
}

// Len returns the number of keys currently held or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
