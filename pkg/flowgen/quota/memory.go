package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore.
// Counters are lost when the process exits; use it for tests and
// single-instance development.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memoryCounter
	now      func() time.Time
	closed   bool
}

type memoryCounter struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore creates an empty in-memory counter store.
func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	cfg := newStoreConfig(opts)
	return &MemoryStore{
		counters: make(map[string]memoryCounter),
		now:      cfg.now,
	}
}

// lookup returns the live counter, evicting it if expired.
// Caller must hold mu.
func (m *MemoryStore) lookup(key string) (memoryCounter, bool) {
	c, ok := m.counters[key]
	if !ok {
		return memoryCounter{}, false
	}
	if !c.expiresAt.IsZero() && !m.now().Before(c.expiresAt) {
		delete(m.counters, key)
		return memoryCounter{}, false
	}
	return c, true
}

// Get implements CounterStore.
func (m *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	c, ok := m.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	return c.value, nil
}

// Set implements CounterStore.
func (m *MemoryStore) Set(_ context.Context, key string, value int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	c := memoryCounter{value: value}
	if ttl > 0 {
		c.expiresAt = m.now().Add(ttl)
	}
	m.counters[key] = c
	return nil
}

// SetNX implements CounterStore.
func (m *MemoryStore) SetNX(_ context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrStoreClosed
	}
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	c := memoryCounter{value: value}
	if ttl > 0 {
		c.expiresAt = m.now().Add(ttl)
	}
	m.counters[key] = c
	return true, nil
}

// Decr implements CounterStore.
func (m *MemoryStore) Decr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	c, _ := m.lookup(key)
	c.value--
	m.counters[key] = c
	return c.value, nil
}

// TTL implements CounterStore.
func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}
	c, ok := m.lookup(key)
	if !ok || c.expiresAt.IsZero() {
		return 0, nil
	}
	return c.expiresAt.Sub(m.now()), nil
}

// Close implements CounterStore.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
