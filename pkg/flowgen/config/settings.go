package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Settings is the fully resolved configuration of a flowgen process.
type Settings struct {
	Server    ServerSettings
	Auth      AuthSettings
	Quota     QuotaSettings
	LLM       LLMSettings
	Search    SearchSettings
	Blob      BlobSettings
	Catalog   CatalogSettings
	Pipeline  PipelineSettings
	Log       LogSettings
	Telemetry TelemetrySettings
}

// ServerSettings configures the HTTP server.
type ServerSettings struct {
	Addr            string
	EnableSearch    bool
	ShutdownTimeout time.Duration
}

// AuthSettings configures how callers are identified.
type AuthSettings struct {
	Mode      string // "jwt" or "header"
	JWTSecret string
	// JWTPublicKeyFile names a PEM RSA public key. When set, tokens are
	// verified as RS256 and JWTSecret is ignored.
	JWTPublicKeyFile string
	Issuer           string
	Audience         string
	Header           string
}

// QuotaSettings configures the rate limiter and its counter store.
type QuotaSettings struct {
	Backend    string // "memory", "redis" or "sqlite"
	Limit      int
	Window     time.Duration
	KeyPrefix  string
	RedisURL   string
	SQLitePath string
}

// LLMSettings configures the model provider.
type LLMSettings struct {
	Provider      string // "openai" or "anthropic"
	APIKey        string
	BaseURL       string
	KeywordModel  string
	WorkflowModel string
	Timeout       time.Duration
	MaxRetries    int
}

// SearchSettings configures the node index.
type SearchSettings struct {
	Backend        string // "autorag" or "catalog"
	AccountID      string
	RAGName        string
	APIToken       string
	BaseURL        string
	MaxResults     int
	ScoreThreshold float64
	// MaxAttempts bounds transport retries; 1 disables them.
	MaxAttempts int
}

// BlobSettings configures where full node descriptions are read from.
type BlobSettings struct {
	Backend string // "catalog" or "dir"
	Dir     string
}

// CatalogSettings locates the local SQLite catalog.
type CatalogSettings struct {
	Path string
}

// PipelineSettings tunes the generation pipeline.
type PipelineSettings struct {
	SystemPromptFile     string
	HydrationConcurrency int
	IncludeRawOutput     bool
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string // debug, info, warn, error
	Format string // "text" or "json"
}

// TelemetrySettings enables OpenTelemetry instrumentation.
type TelemetrySettings struct {
	Metrics bool
	Tracing bool
}

// DefaultSettings returns the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:            ":8787",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthSettings{
			Mode:   "jwt",
			Header: "X-User-ID",
		},
		Quota: QuotaSettings{
			Backend:    "memory",
			Limit:      10,
			Window:     24 * time.Hour,
			KeyPrefix:  "quota:",
			SQLitePath: "data/quota.db",
		},
		LLM: LLMSettings{
			Provider:      "openai",
			KeywordModel:  "gpt-4.1-nano",
			WorkflowModel: "gpt-4.1-mini",
			Timeout:       2 * time.Minute,
			MaxRetries:    2,
		},
		Search: SearchSettings{
			Backend:        "autorag",
			RAGName:        "n8n-autorag",
			MaxResults:     15,
			ScoreThreshold: 0.25,
			MaxAttempts:    1,
		},
		Blob: BlobSettings{
			Backend: "catalog",
		},
		Catalog: CatalogSettings{
			Path: "data/catalog.db",
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadSettings maps c onto the defaults.
func LoadSettings(c Config) Settings {
	s := DefaultSettings()

	srv := c.Section("server")
	s.Server.Addr = srv.String("addr", s.Server.Addr)
	s.Server.EnableSearch = srv.Bool("enable_search", s.Server.EnableSearch)
	s.Server.ShutdownTimeout = srv.Duration("shutdown_timeout", s.Server.ShutdownTimeout)

	auth := c.Section("auth")
	s.Auth.Mode = auth.String("mode", s.Auth.Mode)
	s.Auth.JWTSecret = auth.String("jwt_secret", s.Auth.JWTSecret)
	s.Auth.JWTPublicKeyFile = auth.String("jwt_public_key_file", s.Auth.JWTPublicKeyFile)
	s.Auth.Issuer = auth.String("issuer", s.Auth.Issuer)
	s.Auth.Audience = auth.String("audience", s.Auth.Audience)
	s.Auth.Header = auth.String("header", s.Auth.Header)

	q := c.Section("quota")
	s.Quota.Backend = q.String("backend", s.Quota.Backend)
	s.Quota.Limit = q.Int("limit", s.Quota.Limit)
	s.Quota.Window = q.Duration("window", s.Quota.Window)
	s.Quota.KeyPrefix = q.String("key_prefix", s.Quota.KeyPrefix)
	s.Quota.RedisURL = q.String("redis_url", s.Quota.RedisURL)
	s.Quota.SQLitePath = q.String("sqlite_path", s.Quota.SQLitePath)

	l := c.Section("llm")
	s.LLM.Provider = l.String("provider", s.LLM.Provider)
	s.LLM.APIKey = l.String("api_key", s.LLM.APIKey)
	s.LLM.BaseURL = l.String("base_url", s.LLM.BaseURL)
	s.LLM.KeywordModel = l.String("keyword_model", s.LLM.KeywordModel)
	s.LLM.WorkflowModel = l.String("workflow_model", s.LLM.WorkflowModel)
	s.LLM.Timeout = l.Duration("timeout", s.LLM.Timeout)
	s.LLM.MaxRetries = l.Int("max_retries", s.LLM.MaxRetries)

	sr := c.Section("search")
	s.Search.Backend = sr.String("backend", s.Search.Backend)
	s.Search.AccountID = sr.String("account_id", s.Search.AccountID)
	s.Search.RAGName = sr.String("rag_name", s.Search.RAGName)
	s.Search.APIToken = sr.String("api_token", s.Search.APIToken)
	s.Search.BaseURL = sr.String("base_url", s.Search.BaseURL)
	s.Search.MaxResults = sr.Int("max_results", s.Search.MaxResults)
	s.Search.ScoreThreshold = sr.Float("score_threshold", s.Search.ScoreThreshold)
	s.Search.MaxAttempts = sr.Int("max_attempts", s.Search.MaxAttempts)

	s.Blob.Backend = c.String("blob.backend", s.Blob.Backend)
	s.Blob.Dir = c.String("blob.dir", s.Blob.Dir)
	s.Catalog.Path = c.String("catalog.path", s.Catalog.Path)

	p := c.Section("pipeline")
	s.Pipeline.SystemPromptFile = p.String("system_prompt_file", s.Pipeline.SystemPromptFile)
	s.Pipeline.HydrationConcurrency = p.Int("hydration_concurrency", s.Pipeline.HydrationConcurrency)
	s.Pipeline.IncludeRawOutput = p.Bool("include_raw_output", s.Pipeline.IncludeRawOutput)

	s.Log.Level = c.String("log.level", s.Log.Level)
	s.Log.Format = c.String("log.format", s.Log.Format)

	s.Telemetry.Metrics = c.Bool("telemetry.metrics", s.Telemetry.Metrics)
	s.Telemetry.Tracing = c.Bool("telemetry.tracing", s.Telemetry.Tracing)

	return s
}

// ApplyEnv overrides settings from FLOWGEN_* variables read through getenv.
// Unset or empty variables leave the setting unchanged.
func (s *Settings) ApplyEnv(getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(name string, dst *bool) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	str("FLOWGEN_ADDR", &s.Server.Addr)
	boolean("FLOWGEN_ENABLE_SEARCH", &s.Server.EnableSearch)
	str("FLOWGEN_AUTH_MODE", &s.Auth.Mode)
	str("FLOWGEN_JWT_SECRET", &s.Auth.JWTSecret)
	str("FLOWGEN_JWT_PUBLIC_KEY_FILE", &s.Auth.JWTPublicKeyFile)
	str("FLOWGEN_QUOTA_BACKEND", &s.Quota.Backend)
	integer("FLOWGEN_QUOTA_LIMIT", &s.Quota.Limit)
	duration("FLOWGEN_QUOTA_WINDOW", &s.Quota.Window)
	str("FLOWGEN_REDIS_URL", &s.Quota.RedisURL)
	str("FLOWGEN_LLM_PROVIDER", &s.LLM.Provider)
	str("FLOWGEN_LLM_API_KEY", &s.LLM.APIKey)
	str("FLOWGEN_LLM_BASE_URL", &s.LLM.BaseURL)
	str("FLOWGEN_SEARCH_BACKEND", &s.Search.Backend)
	str("FLOWGEN_SEARCH_ACCOUNT_ID", &s.Search.AccountID)
	str("FLOWGEN_SEARCH_API_TOKEN", &s.Search.APIToken)
	str("FLOWGEN_CATALOG_PATH", &s.Catalog.Path)
	str("FLOWGEN_LOG_LEVEL", &s.Log.Level)
	str("FLOWGEN_LOG_FORMAT", &s.Log.Format)

	return errors.Join(errs...)
}

// Validate reports every inconsistent setting at once.
func (s Settings) Validate() error {
	var errs []error
	oneOf := func(field, got string, allowed ...string) {
		if !slices.Contains(allowed, got) {
			errs = append(errs, fmt.Errorf("%s: %q is not one of %s", field, got, strings.Join(allowed, ", ")))
		}
	}

	oneOf("auth.mode", s.Auth.Mode, "jwt", "header")
	if s.Auth.Mode == "jwt" && s.Auth.JWTSecret == "" && s.Auth.JWTPublicKeyFile == "" {
		errs = append(errs, errors.New("auth.jwt_secret: required when auth.mode is jwt and auth.jwt_public_key_file is unset"))
	}
	if s.Auth.Mode == "header" && s.Auth.Header == "" {
		errs = append(errs, errors.New("auth.header: required when auth.mode is header"))
	}

	oneOf("quota.backend", s.Quota.Backend, "memory", "redis", "sqlite")
	if s.Quota.Limit <= 0 {
		errs = append(errs, errors.New("quota.limit: must be positive"))
	}
	if s.Quota.Window <= 0 {
		errs = append(errs, errors.New("quota.window: must be positive"))
	}
	if s.Quota.Backend == "redis" && s.Quota.RedisURL == "" {
		errs = append(errs, errors.New("quota.redis_url: required when quota.backend is redis"))
	}

	oneOf("llm.provider", s.LLM.Provider, "openai", "anthropic")
	oneOf("search.backend", s.Search.Backend, "autorag", "catalog")
	if s.Search.Backend == "autorag" && s.Search.AccountID == "" {
		errs = append(errs, errors.New("search.account_id: required when search.backend is autorag"))
	}
	if s.Search.MaxResults <= 0 {
		errs = append(errs, errors.New("search.max_results: must be positive"))
	}
	if s.Search.ScoreThreshold < 0 || s.Search.ScoreThreshold > 1 {
		errs = append(errs, errors.New("search.score_threshold: must be within [0, 1]"))
	}
	if s.Search.MaxAttempts < 1 {
		errs = append(errs, errors.New("search.max_attempts: must be at least 1"))
	}

	oneOf("blob.backend", s.Blob.Backend, "catalog", "dir")
	if s.Blob.Backend == "dir" && s.Blob.Dir == "" {
		errs = append(errs, errors.New("blob.dir: required when blob.backend is dir"))
	}
	if s.Pipeline.HydrationConcurrency < 0 {
		errs = append(errs, errors.New("pipeline.hydration_concurrency: must not be negative"))
	}

	oneOf("log.level", strings.ToLower(s.Log.Level), "debug", "info", "warn", "error")
	oneOf("log.format", s.Log.Format, "text", "json")

	return errors.Join(errs...)
}

// Load resolves settings from an optional file and the process environment.
// It does not validate; callers validate once every override is applied.
func Load(path string) (Settings, error) {
	s := DefaultSettings()
	if path != "" {
		c, err := FromFile(path)
		if err != nil {
			return Settings{}, err
		}
		s = LoadSettings(c)
	}
	if err := s.ApplyEnv(os.Getenv); err != nil {
		return Settings{}, fmt.Errorf("environment: %w", err)
	}
	return s, nil
}
