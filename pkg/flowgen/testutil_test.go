package flowgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// Node description fixtures.
const (
	slackDoc   = `{"name":"n8n-nodes-base.slack","displayName":"Slack","typeVersion":2}`
	httpDoc    = `{"name":"n8n-nodes-base.httpRequest","displayName":"HTTP Request"}`
	cronDoc    = `{"name":"n8n-nodes-base.cron","displayName":"Cron"}`
	workflowJS = `{"name":"Notify","nodes":[],"connections":{}}`
)

// fakeIndex is a scripted search.Index.
type fakeIndex struct {
	mu      sync.Mutex
	resp    search.Response
	err     error
	queries []search.Query
}

func (f *fakeIndex) Search(ctx context.Context, q search.Query) (search.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := ctx.Err(); err != nil {
		return search.Response{}, err
	}
	return f.resp, f.err
}

func (f *fakeIndex) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

// panicStore panics for one key and delegates the rest.
type panicStore struct {
	blob.Store
	key string
}

func (p panicStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == p.key {
		panic("store exploded")
	}
	return p.Store.Get(ctx, key)
}

// testIndex returns an index answering with slack, http and cron
// candidates.
func testIndex() *fakeIndex {
	return &fakeIndex{resp: search.Response{Data: []search.Candidate{
		{FileID: "f-slack", Filename: "slack.json", Score: 0.9},
		{FileID: "f-http", Filename: "http.json", Score: 0.7},
		{FileID: "f-cron", Filename: "cron.json", Score: 0.4},
	}}}
}

func testBlobs() *blob.MemoryStore {
	blobs := blob.NewMemoryStore()
	blobs.Put("slack.json", []byte(slackDoc))
	blobs.Put("http.json", []byte(httpDoc))
	blobs.Put("cron.json", []byte(cronDoc))
	return blobs
}

// scriptedClient answers keyword requests with keywords and everything
// else with workflow.
func scriptedClient(keywords, workflow string) *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		if req.ResponseFormat != nil && req.ResponseFormat.Type == llm.FormatJSONSchema {
			return &llm.CompletionResponse{Content: keywords}, nil
		}
		return &llm.CompletionResponse{Content: workflow}, nil
	})
}

func newTestPipeline(t *testing.T, client llm.Client, index search.Index, blobs blob.Store, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(client, index, blobs, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// collect drains a stream, failing the test if it does not close.
func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

// progressSteps lists step/status pairs of the progress events.
func progressSteps(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == EventProgress {
			out = append(out, string(ev.Progress.Step)+":"+string(ev.Progress.Status))
		}
	}
	return out
}

func terminals(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

// recordingMetrics records stage outcomes.
type recordingMetrics struct {
	mu       sync.Mutex
	stages   []string
	failed   []string
	runs     []bool
	dropped  []string
	quotaHit []bool
}

func (m *recordingMetrics) RecordStage(_ context.Context, step string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, step)
	if err != nil {
		m.failed = append(m.failed, step)
	}
}

func (m *recordingMetrics) RecordRun(_ context.Context, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, success)
}

func (m *recordingMetrics) RecordQuotaDecision(_ context.Context, allowed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotaHit = append(m.quotaHit, allowed)
}

func (m *recordingMetrics) RecordHydrationFailure(_ context.Context, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, reason)
}

// recordingSpans records span names and hands out no-op spans.
type recordingSpans struct {
	mu     sync.Mutex
	names  []string
	ended  int
	errs   int
	events []string
}

func (s *recordingSpans) StartRunSpan(ctx context.Context, runID string) (context.Context, trace.Span) {
	s.record("flowgen.run")
	return noop.NewTracerProvider().Tracer("test").Start(ctx, "flowgen.run")
}

func (s *recordingSpans) StartStageSpan(ctx context.Context, step string) (context.Context, trace.Span) {
	s.record("flowgen.stage." + step)
	return noop.NewTracerProvider().Tracer("test").Start(ctx, "flowgen.stage."+step)
}

func (s *recordingSpans) EndSpanWithError(span trace.Span, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	if err != nil {
		s.errs++
	}
	span.End()
}

func (s *recordingSpans) AddSpanEvent(_ context.Context, name string, _ ...attribute.KeyValue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, name)
}

func (s *recordingSpans) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

// searchFunc adapts a function to search.Index.
type searchFunc func(ctx context.Context, q search.Query) (search.Response, error)

func (f searchFunc) Search(ctx context.Context, q search.Query) (search.Response, error) {
	return f(ctx, q)
}

func fastRetry(attempts int) fgerrors.RetryPolicy {
	return fgerrors.RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	}
}
