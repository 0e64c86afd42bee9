package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records flowgen metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStage records a pipeline stage with its duration and error status.
	RecordStage(ctx context.Context, step string, duration time.Duration, err error)

	// RecordRun records a generation run completion.
	RecordRun(ctx context.Context, success bool, duration time.Duration)

	// RecordQuotaDecision records an admission decision.
	RecordQuotaDecision(ctx context.Context, allowed bool)

	// RecordHydrationFailure records a candidate dropped during hydration.
	RecordHydrationFailure(ctx context.Context, reason string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stageExecutions   metric.Int64Counter
	stageLatency      metric.Float64Histogram
	stageErrors       metric.Int64Counter
	runs              metric.Int64Counter
	runLatency        metric.Float64Histogram
	quotaDecisions    metric.Int64Counter
	hydrationFailures metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the default OTel metrics instance.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("flowgen")

	stageExecutions, err := meter.Int64Counter("flowgen.stage.executions",
		metric.WithDescription("Number of pipeline stage executions"),
	)
	if err != nil {
		return nil, err
	}

	stageLatency, err := meter.Float64Histogram("flowgen.stage.latency_ms",
		metric.WithDescription("Pipeline stage latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stageErrors, err := meter.Int64Counter("flowgen.stage.errors",
		metric.WithDescription("Number of failed pipeline stages"),
	)
	if err != nil {
		return nil, err
	}

	runs, err := meter.Int64Counter("flowgen.run.count",
		metric.WithDescription("Number of generation runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("flowgen.run.latency_ms",
		metric.WithDescription("Generation run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	quotaDecisions, err := meter.Int64Counter("flowgen.quota.decisions",
		metric.WithDescription("Number of quota admission decisions"),
	)
	if err != nil {
		return nil, err
	}

	hydrationFailures, err := meter.Int64Counter("flowgen.hydration.failures",
		metric.WithDescription("Number of candidates dropped during hydration"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		stageExecutions:   stageExecutions,
		stageLatency:      stageLatency,
		stageErrors:       stageErrors,
		runs:              runs,
		runLatency:        runLatency,
		quotaDecisions:    quotaDecisions,
		hydrationFailures: hydrationFailures,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordStage records a stage execution.
func (m *otelMetrics) RecordStage(ctx context.Context, step string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("step", step))

	m.stageExecutions.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

// RecordRun records a run.
func (m *otelMetrics) RecordRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordQuotaDecision records a quota decision.
func (m *otelMetrics) RecordQuotaDecision(ctx context.Context, allowed bool) {
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(attribute.Bool("allowed", allowed)))
}

// RecordHydrationFailure records a dropped candidate.
func (m *otelMetrics) RecordHydrationFailure(ctx context.Context, reason string) {
	m.hydrationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
