// Package server exposes the generation pipeline over HTTP.
//
// Routes:
//
//	POST /generate-workflow  authenticated, quota-checked, answered as an SSE stream
//	GET  /quota              remaining generations for the caller
//	GET  /search             node lookup without synthesis, disabled by default
//	GET  /healthz            liveness
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/auth"
	"github.com/randalmurphal/flowgen/pkg/flowgen/quota"
)

// DefaultMaxBodyBytes caps the generation request body.
const DefaultMaxBodyBytes = 1 << 20

// Server serves the pipeline.
type Server struct {
	pipeline *flowgen.Pipeline
	limiter  *quota.Limiter
	auth     auth.Authenticator
	logger   *slog.Logger

	enableSearch bool
	maxBodyBytes int64
	now          func() time.Time

	mux *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSearchEnabled turns on GET /search.
func WithSearchEnabled(enabled bool) Option {
	return func(s *Server) {
		s.enableSearch = enabled
	}
}

// WithMaxBodyBytes caps the request body size.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// New creates a Server.
func New(p *flowgen.Pipeline, limiter *quota.Limiter, authn auth.Authenticator, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, errors.New("server: pipeline is required")
	}
	if limiter == nil {
		return nil, errors.New("server: limiter is required")
	}
	if authn == nil {
		return nil, errors.New("server: authenticator is required")
	}

	s := &Server{
		pipeline:     p,
		limiter:      limiter,
		auth:         authn,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /generate-workflow", s.requireAuth(http.HandlerFunc(s.handleGenerate)))
	mux.Handle("GET /quota", s.requireAuth(http.HandlerFunc(s.handleQuota)))
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux = mux
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully, waiting up to shutdownTimeout for open streams.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve serves on ln until ctx is done. Requests inherit ctx's values but
// not its cancellation, so streams in flight when ctx ends can finish
// within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	base := context.WithoutCancel(ctx)
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("flowgen listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("graceful shutdown incomplete", slog.String("error", err.Error()))
		_ = srv.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// requireAuth rejects unauthenticated callers with 403 and stores the
// identity in the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.auth.Authenticate(r)
		if err != nil {
			s.reject(w, r, http.StatusForbidden, messageBody{Message: msgNotLoggedIn}, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}
