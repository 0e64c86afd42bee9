package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// Defaults for a Limiter.
const (
	DefaultLimit     = 10
	DefaultWindow    = 24 * time.Hour
	DefaultKeyPrefix = "quota:"
)

// ErrEmptyIdentity is returned when no identity is supplied.
var ErrEmptyIdentity = errors.New("quota identity is required")

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter grants at most Limit generations per identity per window.
//
// The first request of a window creates the counter at Limit-1 with the
// window as its expiry, atomically so concurrent first requests cannot both
// win. Later requests decrement it while positive. A request that finds
// zero, or whose decrement goes negative because of a concurrent request,
// is rejected with Remaining 0. A counter found without an expiry is
// replaced by a fresh window.
type Limiter struct {
	store   CounterStore
	limit   int64
	window  time.Duration
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithLimit sets the number of generations allowed per window.
func WithLimit(n int64) LimiterOption {
	return func(l *Limiter) {
		if n > 0 {
			l.limit = n
		}
	}
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithKeyPrefix sets the counter key prefix.
func WithKeyPrefix(prefix string) LimiterOption {
	return func(l *Limiter) {
		l.prefix = prefix
	}
}

// WithClock overrides time.Now for reset computation.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger for quota decisions.
func WithLogger(logger *slog.Logger) LimiterOption {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder for quota decisions.
func WithMetrics(m observability.MetricsRecorder) LimiterOption {
	return func(l *Limiter) {
		if m != nil {
			l.metrics = m
		}
	}
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store CounterStore, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:   store,
		limit:   DefaultLimit,
		window:  DefaultWindow,
		prefix:  DefaultKeyPrefix,
		now:     time.Now,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the per-window allowance.
func (l *Limiter) Limit() int64 { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) key(identity string) string {
	return l.prefix + identity
}

// CheckAndConsume decides whether identity may start a generation and, if
// so, consumes one unit. A rejected request leaves the counter unchanged.
// Store failures are returned wrapped in ErrStoreUnavailable.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity string) (Decision, error) {
	if identity == "" {
		return Decision{}, ErrEmptyIdentity
	}
	key := l.key(identity)

	decision, err := l.checkAndConsume(ctx, key)
	if err != nil {
		return Decision{}, err
	}

	observability.LogQuotaDecision(l.logger, identity, decision.Allowed, decision.Remaining)
	l.metrics.RecordQuotaDecision(ctx, decision.Allowed)
	return decision, nil
}

func (l *Limiter) checkAndConsume(ctx context.Context, key string) (Decision, error) {
	created, err := l.store.SetNX(ctx, key, l.limit-1, l.window)
	if err != nil {
		return Decision{}, unavailable("setnx", err)
	}
	if created {
		return l.firstOfWindow(), nil
	}

	current, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		// Expired since SetNX.
		return l.restart(ctx, key)
	}
	if err != nil {
		return Decision{}, unavailable("get", err)
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return Decision{}, unavailable("ttl", err)
	}
	if ttl <= 0 {
		// A counter without expiry would never reset.
		return l.restart(ctx, key)
	}
	resetAt := l.now().Add(ttl)

	if current <= 0 {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}

	remaining, err := l.store.Decr(ctx, key)
	if err != nil {
		return Decision{}, unavailable("decr", err)
	}
	ttl, err = l.store.TTL(ctx, key)
	if err != nil {
		return Decision{}, unavailable("ttl", err)
	}
	if ttl <= 0 {
		// The window lapsed before the decrement, which recreated the
		// key without an expiry.
		return l.restart(ctx, key)
	}
	if remaining < 0 {
		// Lost a race for the last unit.
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: l.now().Add(ttl)}, nil
}

// restart opens a new window for key and consumes its first unit.
func (l *Limiter) restart(ctx context.Context, key string) (Decision, error) {
	if err := l.store.Set(ctx, key, l.limit-1, l.window); err != nil {
		return Decision{}, unavailable("set", err)
	}
	return l.firstOfWindow(), nil
}

func (l *Limiter) firstOfWindow() Decision {
	return Decision{Allowed: true, Remaining: l.limit - 1, ResetAt: l.now().Add(l.window)}
}

// Status reports the remaining allowance for identity without consuming
// any. An identity with no live counter has the full limit, resetting one
// window from now.
func (l *Limiter) Status(ctx context.Context, identity string) (Decision, error) {
	if identity == "" {
		return Decision{}, ErrEmptyIdentity
	}
	key := l.key(identity)

	current, err := l.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return Decision{Allowed: true, Remaining: l.limit, ResetAt: l.now().Add(l.window)}, nil
	}
	if err != nil {
		return Decision{}, unavailable("get", err)
	}

	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return Decision{}, unavailable("ttl", err)
	}
	if ttl <= 0 {
		// The next admission starts a new window for it.
		return Decision{Allowed: true, Remaining: l.limit, ResetAt: l.now().Add(l.window)}, nil
	}

	remaining := max(current, 0)
	return Decision{Allowed: remaining > 0, Remaining: remaining, ResetAt: l.now().Add(ttl)}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
