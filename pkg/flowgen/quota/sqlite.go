package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const upsertCounter = `
	INSERT INTO quota_counters (key, value, expires_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		expires_at = excluded.expires_at
`

// SQLiteStore persists counters to SQLite.
// It is suitable for single-process deployments that must survive restarts.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore creates a SQLite counter store.
// The path should be a file path (e.g., "./quota.db") or ":memory:" for testing.
func NewSQLiteStore(path string, opts ...StoreOption) (*SQLiteStore, error) {
	cfg := newStoreConfig(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every operation is serialized by mu; a single connection also keeps
	// ":memory:" databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quota_counters (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStore{db: db, now: cfg.now}, nil
}

// row reads a live counter. expiresAt is unix nanoseconds, 0 for none.
// Caller must hold mu.
func (s *SQLiteStore) row(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, key string) (value, expiresAt int64, found bool, err error) {
	err = q.QueryRowContext(ctx,
		`SELECT value, expires_at FROM quota_counters WHERE key = ?`, key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	if expiresAt > 0 && expiresAt <= s.now().UnixNano() {
		return 0, 0, false, nil
	}
	return value, expiresAt, true, nil
}

// Get implements CounterStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	value, _, found, err := s.row(ctx, s.db, key)
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}
	if !found {
		return 0, ErrNotFound
	}
	return value, nil
}

// Set implements CounterStore.
func (s *SQLiteStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx, upsertCounter, key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("set counter: %w", err)
	}
	return nil
}

// SetNX implements CounterStore. An expired row counts as absent and is
// replaced.
func (s *SQLiteStore) SetNX(ctx context.Context, key string, value int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin setnx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, _, found, err := s.row(ctx, tx, key)
	if err != nil {
		return false, fmt.Errorf("setnx counter: %w", err)
	}
	if found {
		return false, nil
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	if _, err := tx.ExecContext(ctx, upsertCounter, key, value, expiresAt); err != nil {
		return false, fmt.Errorf("setnx counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit setnx: %w", err)
	}
	return true, nil
}

// Decr implements CounterStore.
func (s *SQLiteStore) Decr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin decr: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	value, expiresAt, found, err := s.row(ctx, tx, key)
	if err != nil {
		return 0, fmt.Errorf("decr counter: %w", err)
	}
	if !found {
		value, expiresAt = 0, 0
	}
	value--

	if _, err := tx.ExecContext(ctx, upsertCounter, key, value, expiresAt); err != nil {
		return 0, fmt.Errorf("decr counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit decr: %w", err)
	}
	return value, nil
}

// TTL implements CounterStore.
func (s *SQLiteStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	_, expiresAt, found, err := s.row(ctx, s.db, key)
	if err != nil {
		return 0, fmt.Errorf("ttl counter: %w", err)
	}
	if !found || expiresAt == 0 {
		return 0, nil
	}
	return time.Unix(0, expiresAt).Sub(s.now()), nil
}

// Close implements CounterStore.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
