package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
	"github.com/randalmurphal/flowgen/pkg/flowgen/auth"
	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	"github.com/randalmurphal/flowgen/pkg/flowgen/catalog"
	"github.com/randalmurphal/flowgen/pkg/flowgen/config"
	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
	"github.com/randalmurphal/flowgen/pkg/flowgen/quota"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// app builds the components named by Settings and owns their lifetimes.
type app struct {
	settings config.Settings
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager

	catalog *catalog.SQLiteCatalog
	closers []io.Closer
}

func newApp(s config.Settings, logOut io.Writer) *app {
	a := &app{
		settings: s,
		logger:   newLogger(s.Log, logOut),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
	if s.Telemetry.Metrics {
		a.metrics = observability.NewMetricsRecorder()
	}
	if s.Telemetry.Tracing {
		a.spans = observability.NewSpanManager()
	}
	return a
}

// Close releases every opened store, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(s config.LogSettings, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(s.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if s.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openCatalog opens the node catalog once.
func (a *app) openCatalog() (*catalog.SQLiteCatalog, error) {
	if a.catalog != nil {
		return a.catalog, nil
	}
	c, err := catalog.Open(a.settings.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	a.catalog = c
	a.closers = append(a.closers, c)
	return c, nil
}

func (a *app) llmClient() (llm.Client, error) {
	s := a.settings.LLM
	opts := []llm.Option{
		llm.WithTimeout(s.Timeout),
		llm.WithMaxRetries(s.MaxRetries),
	}
	if s.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(s.BaseURL))
	}
	switch s.Provider {
	case "anthropic":
		return llm.NewAnthropicClient(s.APIKey, opts...)
	case "openai", "":
		return llm.NewOpenAIClient(s.APIKey, opts...)
	}
	return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
}

func (a *app) searchIndex() (search.Index, error) {
	s := a.settings.Search
	switch s.Backend {
	case "catalog":
		return a.openCatalog()
	case "autorag", "":
		var opts []search.AutoRAGOption
		if s.BaseURL != "" {
			opts = append(opts, search.WithAutoRAGBaseURL(s.BaseURL))
		}
		return search.NewAutoRAGClient(s.AccountID, s.RAGName, s.APIToken, opts...)
	}
	return nil, fmt.Errorf("unknown search backend %q", s.Backend)
}

func (a *app) blobStore() (blob.Store, error) {
	s := a.settings.Blob
	switch s.Backend {
	case "dir":
		return blob.NewDirStore(s.Dir)
	case "catalog", "":
		return a.openCatalog()
	}
	return nil, fmt.Errorf("unknown blob backend %q", s.Backend)
}

func (a *app) quotaStore() (quota.CounterStore, error) {
	s := a.settings.Quota
	var (
		store quota.CounterStore
		err   error
	)
	switch s.Backend {
	case "memory", "":
		store = quota.NewMemoryStore()
	case "redis":
		store, err = quota.NewRedisStoreFromURL(s.RedisURL)
	case "sqlite":
		store, err = quota.NewSQLiteStore(s.SQLitePath)
	default:
		err = fmt.Errorf("unknown quota backend %q", s.Backend)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)
	return store, nil
}

func (a *app) limiter() (*quota.Limiter, error) {
	store, err := a.quotaStore()
	if err != nil {
		return nil, err
	}
	s := a.settings.Quota
	return quota.NewLimiter(store,
		quota.WithLimit(int64(s.Limit)),
		quota.WithWindow(s.Window),
		quota.WithKeyPrefix(s.KeyPrefix),
		quota.WithLogger(a.logger),
		quota.WithMetrics(a.metrics),
	), nil
}

func (a *app) authenticator() (auth.Authenticator, error) {
	s := a.settings.Auth
	switch s.Mode {
	case "header":
		return auth.HeaderAuthenticator{Header: s.Header}, nil
	case "jwt", "":
		var opts []auth.JWTOption
		if s.Issuer != "" {
			opts = append(opts, auth.WithIssuer(s.Issuer))
		}
		if s.Audience != "" {
			opts = append(opts, auth.WithAudience(s.Audience))
		}
		if s.JWTPublicKeyFile != "" {
			pem, err := os.ReadFile(s.JWTPublicKeyFile)
			if err != nil {
				return nil, fmt.Errorf("auth.jwt_public_key_file: %w", err)
			}
			return auth.NewRSAAuthenticator(pem, opts...)
		}
		return auth.NewHMACAuthenticator([]byte(s.JWTSecret), opts...)
	}
	return nil, fmt.Errorf("unknown auth mode %q", s.Mode)
}

func (a *app) pipeline() (*flowgen.Pipeline, error) {
	client, err := a.llmClient()
	if err != nil {
		return nil, err
	}
	index, err := a.searchIndex()
	if err != nil {
		return nil, err
	}
	blobs, err := a.blobStore()
	if err != nil {
		return nil, err
	}
	return a.pipelineWith(client, index, blobs)
}

func (a *app) pipelineWith(client llm.Client, index search.Index, blobs blob.Store) (*flowgen.Pipeline, error) {
	s := a.settings
	opts := []flowgen.Option{
		flowgen.WithLogger(a.logger),
		flowgen.WithMetrics(a.metrics),
		flowgen.WithSpanManager(a.spans),
		flowgen.WithKeywordModel(s.LLM.KeywordModel),
		flowgen.WithWorkflowModel(s.LLM.WorkflowModel),
		flowgen.WithMaxResults(s.Search.MaxResults),
		flowgen.WithScoreThreshold(s.Search.ScoreThreshold),
		flowgen.WithHydrationConcurrency(s.Pipeline.HydrationConcurrency),
		flowgen.WithRawOutput(s.Pipeline.IncludeRawOutput),
	}
	if s.Search.MaxAttempts > 1 {
		retry := fgerrors.DefaultRetry
		retry.MaxAttempts = s.Search.MaxAttempts
		opts = append(opts, flowgen.WithSearchRetry(retry))
	}
	if s.Pipeline.SystemPromptFile != "" {
		prompt, err := flowgen.LoadWorkflowPrompt(s.Pipeline.SystemPromptFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, flowgen.WithSystemPrompt(prompt))
	}
	return flowgen.New(client, index, blobs, opts...)
}
