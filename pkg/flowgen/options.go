package flowgen

import (
	"log/slog"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
)

// Default models.
const (
	DefaultKeywordModel  = "gpt-4.1-nano"
	DefaultWorkflowModel = "gpt-4.1-mini"
)

// DefaultBufferSize is the default capacity of a run's event channel.
const DefaultBufferSize = 16

// pipelineConfig holds Pipeline configuration.
type pipelineConfig struct {
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	keywordClient  llm.Client
	keywordModel   string
	workflowModel  string
	systemPrompt   string
	maxResults     int
	scoreThreshold float64
	searchRetry    fgerrors.RetryPolicy
	concurrency    int
	includeRaw     bool
	bufferSize     int
}

func defaultPipelineConfig() pipelineConfig {
	return pipelineConfig{
		logger:         slog.Default(),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		keywordModel:   DefaultKeywordModel,
		workflowModel:  DefaultWorkflowModel,
		systemPrompt:   DefaultWorkflowPrompt(),
		maxResults:     DefaultMaxResults,
		scoreThreshold: DefaultScoreThreshold,
		searchRetry:    fgerrors.NoRetry,
		bufferSize:     DefaultBufferSize,
	}
}

// Option configures a Pipeline.
type Option func(*pipelineConfig)

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(c *pipelineConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for runs and stages.
//
// Example:
//
//	p, err := flowgen.New(client, index, blobs,
//	    flowgen.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *pipelineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager enables tracing. Each run gets a flowgen.run span with
// one child span per stage.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *pipelineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithKeywordClient uses a separate client for keyword extraction.
// By default the synthesis client is used for both calls.
func WithKeywordClient(client llm.Client) Option {
	return func(c *pipelineConfig) {
		c.keywordClient = client
	}
}

// WithKeywordModel sets the keyword extraction model.
// Default: gpt-4.1-nano
func WithKeywordModel(model string) Option {
	return func(c *pipelineConfig) {
		if model != "" {
			c.keywordModel = model
		}
	}
}

// WithWorkflowModel sets the synthesis model.
// Default: gpt-4.1-mini
func WithWorkflowModel(model string) Option {
	return func(c *pipelineConfig) {
		if model != "" {
			c.workflowModel = model
		}
	}
}

// WithSystemPrompt replaces the built-in synthesis prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *pipelineConfig) {
		if prompt != "" {
			c.systemPrompt = prompt
		}
	}
}

// WithMaxResults caps the number of search candidates.
// Default: 15
func WithMaxResults(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.maxResults = n
		}
	}
}

// WithScoreThreshold sets the minimum search score.
// Default: 0.25
func WithScoreThreshold(t float64) Option {
	return func(c *pipelineConfig) {
		if t >= 0 {
			c.scoreThreshold = t
		}
	}
}

// WithSearchRetry retries transient search failures. Provider-reported
// errors are never retried. Default: no retries.
func WithSearchRetry(p fgerrors.RetryPolicy) Option {
	return func(c *pipelineConfig) {
		c.searchRetry = p
	}
}

// WithHydrationConcurrency caps concurrent blob fetches.
// Default: 0 (one goroutine per candidate)
func WithHydrationConcurrency(n int) Option {
	return func(c *pipelineConfig) {
		if n >= 0 {
			c.concurrency = n
		}
	}
}

// WithRawOutput includes the raw model text in invalid JSON errors.
func WithRawOutput(enabled bool) Option {
	return func(c *pipelineConfig) {
		c.includeRaw = enabled
	}
}

// WithBufferSize sets the event channel capacity.
// Default: 16
func WithBufferSize(n int) Option {
	return func(c *pipelineConfig) {
		if n >= 0 {
			c.bufferSize = n
		}
	}
}
