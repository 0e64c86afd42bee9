package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// records decodes one JSON object per line.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds run_id and step", func(t *testing.T) {
		logger, buf := newBufferLogger()
		EnrichLogger(logger, "run-1", "search_nodes").Info("hello")

		recs := records(t, buf)
		require.Len(t, recs, 1)
		assert.Equal(t, "run-1", recs[0]["run_id"])
		assert.Equal(t, "search_nodes", recs[0]["step"])
	})

	t.Run("nil logger stays nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "run-1", "x"))
	})
}

func TestLogHelpers(t *testing.T) {
	logger, buf := newBufferLogger()
	boom := errors.New("boom")

	LogRunStart(logger, "run-1", 42)
	LogStageStart(logger, "extract_keywords")
	LogStageComplete(logger, "extract_keywords", 12)
	LogStageError(logger, "search_nodes", boom)
	LogQuotaDecision(logger, "user-1", false, 0)
	LogItemFailure(logger, "fetch_nodes", "http.json", boom)
	LogRunComplete(logger, "run-1", 100, 3)
	LogRunError(logger, "run-1", boom, 50, "search_nodes")

	recs := records(t, buf)
	require.Len(t, recs, 8)

	assert.Equal(t, "generation run starting", recs[0]["msg"])
	assert.EqualValues(t, 42, recs[0]["prompt_len"])
	assert.Equal(t, "DEBUG", recs[1]["level"])
	assert.EqualValues(t, 12, recs[2]["duration_ms"])
	assert.Equal(t, "ERROR", recs[3]["level"])
	assert.Equal(t, "boom", recs[3]["error"])
	assert.Equal(t, false, recs[4]["allowed"])
	assert.Equal(t, "user-1", recs[4]["identity"])
	assert.Equal(t, "WARN", recs[5]["level"])
	assert.Equal(t, "http.json", recs[5]["item"])
	assert.EqualValues(t, 3, recs[6]["nodes"])
	assert.Equal(t, "search_nodes", recs[7]["last_step"])
}

func TestLogHelpers_NilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		LogRunStart(nil, "r", 0)
		LogRunComplete(nil, "r", 0, 0)
		LogRunError(nil, "r", errors.New("x"), 0, "")
		LogStageStart(nil, "s")
		LogStageComplete(nil, "s", 0)
		LogStageError(nil, "s", errors.New("x"))
		LogQuotaDecision(nil, "u", true, 1)
		LogItemFailure(nil, "s", "i", errors.New("x"))
	})
}

func TestLogHelpers_Category(t *testing.T) {
	logger, buf := newBufferLogger()

	LogStageError(logger, "search_nodes", errors.New("boom"))
	LogItemFailure(logger, "fetch_nodes", "a.json", &fgerrors.ItemError{Item: "a.json", Op: "fetch", Err: errors.New("miss")})
	LogDegraded(logger, "search_nodes", fgerrors.Degraded(errors.New("rate limited"), "search slack"))
	LogRejection(logger, "/generate-workflow", 429, fgerrors.Rejection(errors.New("quota exhausted"), "user-1"))

	recs := records(t, buf)
	require.Len(t, recs, 4)
	assert.Equal(t, "fatal", recs[0]["category"])
	assert.Equal(t, "per_item", recs[1]["category"])
	assert.Equal(t, "degraded", recs[2]["category"])
	assert.Equal(t, "WARN", recs[2]["level"])
	assert.Equal(t, "rejection", recs[3]["category"])
	assert.EqualValues(t, 429, recs[3]["status"])

	assert.NotPanics(t, func() {
		LogDegraded(nil, "s", errors.New("x"))
		LogRejection(nil, "/", 403, errors.New("x"))
	})
}
