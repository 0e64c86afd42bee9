package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a CounterStore backed by Redis. GET, SET EX, SET NX EX,
// DECR and TTL are each atomic on the server.
type RedisStore struct {
	client redis.UniversalClient
	owned  bool
}

// NewRedisStore wraps an existing client. Close does not close it.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL connects using a redis:// or rediss:// URL.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), owned: true}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get implements CounterStore.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// Set implements CounterStore.
func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// SetNX implements CounterStore.
func (s *RedisStore) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Decr implements CounterStore.
func (s *RedisStore) Decr(ctx context.Context, key string) (int64, error) {
	v, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis decr: %w", err)
	}
	return v, nil
}

// TTL implements CounterStore.
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ttl: %w", err)
	}
	// -1 (no expiry) and -2 (absent) come back as negative durations.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Close implements CounterStore.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
