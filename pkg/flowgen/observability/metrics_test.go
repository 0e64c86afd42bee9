package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest installs a test meter provider.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(original)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the datapoint carrying key=value.
func sumFor(t *testing.T, m *metricdata.Metrics, key, value string) int64 {
	t.Helper()
	require.NotNil(t, m)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "Expected Sum type")
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attributeKey(key)); ok && v.Emit() == value {
			return dp.Value
		}
	}
	return 0
}

func TestNewMetricsRecorder(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestRecordStage(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordStage(ctx, "search_nodes", 40*time.Millisecond, nil)
	m.RecordStage(ctx, "search_nodes", 10*time.Millisecond, errors.New("down"))
	m.RecordStage(ctx, "dedupe", time.Millisecond, nil)

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "flowgen.stage.executions"), "step", "search_nodes"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "flowgen.stage.errors"), "step", "search_nodes"))
	assert.Equal(t, int64(0), sumFor(t, findMetric(rm, "flowgen.stage.errors"), "step", "dedupe"))

	hist, ok := findMetric(rm, "flowgen.stage.latency_ms").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.NotEmpty(t, hist.DataPoints)
}

func TestRecordRunAndQuota(t *testing.T) {
	reader := setupMetricsTest(t)
	m, err := newOtelMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordRun(ctx, true, time.Second)
	m.RecordQuotaDecision(ctx, true)
	m.RecordQuotaDecision(ctx, false)
	m.RecordQuotaDecision(ctx, false)
	m.RecordHydrationFailure(ctx, "empty_content")

	rm := collectMetrics(t, reader)
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "flowgen.run.count"), "success", "true"))
	assert.Equal(t, int64(2), sumFor(t, findMetric(rm, "flowgen.quota.decisions"), "allowed", "false"))
	assert.Equal(t, int64(1), sumFor(t, findMetric(rm, "flowgen.hydration.failures"), "reason", "empty_content"))
	assert.NotNil(t, findMetric(rm, "flowgen.run.latency_ms"))
}

func TestNoopMetrics(t *testing.T) {
	var m MetricsRecorder = NoopMetrics{}
	assert.NotPanics(t, func() {
		m.RecordStage(context.Background(), "x", 0, errors.New("e"))
		m.RecordRun(context.Background(), false, 0)
		m.RecordQuotaDecision(context.Background(), true)
		m.RecordHydrationFailure(context.Background(), "r")
	})
}
