// Package observability provides structured logging, metrics, and tracing
// helpers for flowgen runs.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
)

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id and step fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "extract_keywords")
//	enriched.Info("calling model") // includes run_id, step
func EnrichLogger(logger *slog.Logger, runID, step string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("step", step),
	)
}

// LogRunStart logs the start of a generation run.
func LogRunStart(logger *slog.Logger, runID string, promptLen int) {
	if logger == nil {
		return
	}
	logger.Info("generation run starting",
		slog.String("run_id", runID),
		slog.Int("prompt_len", promptLen),
	)
}

// LogRunComplete logs successful run completion.
func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("generation run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes", nodeCount),
	)
}

// LogRunError logs run failure.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastStep string) {
	if logger == nil {
		return
	}
	logger.Error("generation run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_step", lastStep),
	)
}

// LogStageStart logs stage start.
func LogStageStart(logger *slog.Logger, step string) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting",
		slog.String("step", step),
	)
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, step string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("stage completed",
		slog.String("step", step),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStageError logs stage failure.
func LogStageError(logger *slog.Logger, step string, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed",
		slog.String("step", step),
		slog.String("category", fgerrors.Categorize(err).String()),
		slog.String("error", err.Error()),
	)
}

// LogQuotaDecision logs the outcome of a quota check.
func LogQuotaDecision(logger *slog.Logger, identity string, allowed bool, remaining int64) {
	if logger == nil {
		return
	}
	logger.Info("quota checked",
		slog.String("identity", identity),
		slog.Bool("allowed", allowed),
		slog.Int64("remaining", remaining),
	)
}

// LogItemFailure logs a per-item failure that does not abort the run.
func LogItemFailure(logger *slog.Logger, step, item string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("item failed",
		slog.String("step", step),
		slog.String("item", item),
		slog.String("category", fgerrors.Categorize(err).String()),
		slog.String("error", err.Error()),
	)
}

// LogDegraded logs a soft failure the run continues past.
func LogDegraded(logger *slog.Logger, step string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("stage degraded",
		slog.String("step", step),
		slog.String("category", fgerrors.Categorize(err).String()),
		slog.String("error", err.Error()),
	)
}

// LogRejection logs a request refused before any pipeline work.
func LogRejection(logger *slog.Logger, path string, status int, err error) {
	if logger == nil {
		return
	}
	logger.Info("request rejected",
		slog.String("path", path),
		slog.Int("status", status),
		slog.String("category", fgerrors.Categorize(err).String()),
		slog.String("error", err.Error()),
	)
}
