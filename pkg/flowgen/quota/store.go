// Package quota enforces per-identity generation quotas over a fixed
// window, backed by an external atomic counter store.
package quota

import (
	"context"
	"errors"
	"time"
)

// CounterStore is the atomic counter primitive the limiter relies on.
// Implementations must be safe for concurrent use; each method must be
// atomic at the store level.
type CounterStore interface {
	// Get returns the current value.
	// Returns ErrNotFound if the key is absent or expired.
	Get(ctx context.Context, key string) (int64, error)

	// Set stores value with the given time to live, replacing any
	// existing value and expiry.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error

	// SetNX stores value with the given time to live only if key is
	// absent or expired. It reports whether the value was stored.
	SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error)

	// Decr decrements the value by one and returns the result. An absent
	// key is treated as zero and keeps no expiry.
	Decr(ctx context.Context, key string) (int64, error)

	// TTL returns the remaining lifetime of key. Returns a non-positive
	// duration if the key is absent or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for counter stores.
var (
	// ErrNotFound indicates the key does not exist or has expired.
	ErrNotFound = errors.New("counter not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("counter store closed")

	// ErrStoreUnavailable wraps any failure talking to the counter store.
	// The limiter returns it so callers can reject before doing work.
	ErrStoreUnavailable = errors.New("quota store unavailable")
)

// storeConfig holds options shared by the in-process stores.
type storeConfig struct {
	now func() time.Time
}

// StoreOption configures an in-process counter store.
type StoreOption func(*storeConfig)

// WithStoreClock overrides the clock used for expiry. For tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		if now != nil {
			c.now = now
		}
	}
}

func newStoreConfig(opts []StoreOption) storeConfig {
	cfg := storeConfig{now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
