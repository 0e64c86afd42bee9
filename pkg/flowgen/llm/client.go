// Package llm provides the completion client used by the generation stages,
// with adapters for OpenAI and Anthropic and a mock for tests.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client performs one-shot completions.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ErrEmptyResponse indicates the provider answered without any text.
var ErrEmptyResponse = errors.New("empty completion response")

// Error wraps a provider failure with the operation and whether a retry
// could help. The SDKs already retry internally; Retryable reports the
// classification of the final attempt.
type Error struct {
	Op        string
	Err       error
	Retryable bool
}

// NewError creates an Error.
func NewError(op string, err error, retryable bool) *Error {
	return &Error{Op: op, Err: err, Retryable: retryable}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether a retry may succeed.
func (e *Error) Transient() bool {
	return e.Retryable
}

// isRetryableStatus reports whether an HTTP status is worth retrying.
func isRetryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}

// providerConfig is shared by the SDK-backed clients.
type providerConfig struct {
	baseURL    string
	model      string
	maxTokens  int
	maxRetries int
	timeout    time.Duration
}

func defaultProviderConfig() providerConfig {
	return providerConfig{
		maxRetries: 2,
		timeout:    2 * time.Minute,
	}
}

// Option configures a provider client.
type Option func(*providerConfig)

// WithBaseURL points the client at a compatible gateway.
func WithBaseURL(url string) Option {
	return func(c *providerConfig) { c.baseURL = strings.TrimSpace(url) }
}

// WithModel sets the default model, used when a request leaves Model empty.
func WithModel(model string) Option {
	return func(c *providerConfig) { c.model = strings.TrimSpace(model) }
}

// WithMaxTokens sets the default output token cap.
func WithMaxTokens(n int) Option {
	return func(c *providerConfig) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMaxRetries sets the SDK transport retry count. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(c *providerConfig) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *providerConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// stripCodeFence removes a single surrounding markdown code fence, which
// some models add around JSON despite instructions.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	t = strings.TrimSuffix(strings.TrimPrefix(t, "```"), "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 && !strings.ContainsAny(t[:i], "{[") {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}
