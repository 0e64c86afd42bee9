package flowgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// errEmptyContent marks a blob that exists but has no body.
var errEmptyContent = errors.New("empty content")

// NodeHydrator fetches the full description of every candidate.
type NodeHydrator struct {
	blobs       blob.Store
	concurrency int
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
}

// NewNodeHydrator creates a NodeHydrator. A concurrency of zero or less
// fetches every candidate at once.
func NewNodeHydrator(blobs blob.Store, concurrency int, logger *slog.Logger, metrics observability.MetricsRecorder) *NodeHydrator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &NodeHydrator{blobs: blobs, concurrency: concurrency, logger: logger, metrics: metrics}
}

// Hydrate fetches all candidates concurrently and waits for every fetch.
// The output has one entry per input, in input order. A failed fetch,
// including a panic inside the store, only clears that entry's identity.
// The returned error is non-nil only when ctx ends first.
func (h *NodeHydrator) Hydrate(ctx context.Context, candidates []search.Candidate) ([]HydratedCandidate, error) {
	results := make([]HydratedCandidate, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	if h.concurrency > 0 {
		g.SetLimit(h.concurrency)
	}
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = h.fetch(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (h *NodeHydrator) fetch(ctx context.Context, c search.Candidate) (out HydratedCandidate) {
	out = HydratedCandidate{Candidate: c}
	if c.Filename == "" {
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			h.drop(ctx, c, "panic", &fgerrors.ItemError{
				Item: c.Filename,
				Op:   "fetch",
				Err:  &PanicError{Step: StepFetchNodes, Value: r, Stack: string(debug.Stack())},
			})
			out = HydratedCandidate{Candidate: c}
		}
	}()

	body, err := h.blobs.Get(ctx, c.Filename)
	switch {
	case errors.Is(err, blob.ErrNotFound):
		h.drop(ctx, c, "not_found", &fgerrors.ItemError{Item: c.Filename, Op: "fetch", Err: err})
		return out
	case err != nil:
		h.drop(ctx, c, "error", &fgerrors.ItemError{Item: c.Filename, Op: "fetch", Err: err})
		return out
	case len(body) == 0:
		h.drop(ctx, c, "empty_content", &fgerrors.ItemError{Item: c.Filename, Op: "fetch", Err: errEmptyContent})
		return out
	case c.FileID == "":
		h.drop(ctx, c, "missing_file_id", &fgerrors.ItemError{
			Item: c.Filename, Op: "fetch", Err: fmt.Errorf("candidate has no file_id"),
		})
		return out
	}

	out.Identity = c.FileID
	out.RawContent = string(body)
	return out
}

func (h *NodeHydrator) drop(ctx context.Context, c search.Candidate, reason string, err error) {
	observability.LogItemFailure(h.logger, string(StepFetchNodes), c.Filename, err)
	h.metrics.RecordHydrationFailure(ctx, reason)
}
