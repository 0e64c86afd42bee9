package flowgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/flowgen/pkg/flowgen/blob"
	fgerrors "github.com/randalmurphal/flowgen/pkg/flowgen/errors"
	"github.com/randalmurphal/flowgen/pkg/flowgen/llm"
	"github.com/randalmurphal/flowgen/pkg/flowgen/observability"
	"github.com/randalmurphal/flowgen/pkg/flowgen/search"
)

// Pipeline turns a prompt into a workflow and reports progress as events.
// A Pipeline is safe for concurrent use; every run has its own RunContext.
type Pipeline struct {
	keywords *KeywordExtractor
	searcher *NodeSearcher
	hydrator *NodeHydrator
	synth    *WorkflowSynthesizer

	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	includeRaw bool
	bufferSize int
}

// New creates a Pipeline. client serves both model calls unless
// WithKeywordClient is given.
func New(client llm.Client, index search.Index, blobs blob.Store, opts ...Option) (*Pipeline, error) {
	if client == nil {
		return nil, errors.New("flowgen: llm client is required")
	}
	if index == nil {
		return nil, errors.New("flowgen: search index is required")
	}
	if blobs == nil {
		return nil, errors.New("flowgen: blob store is required")
	}

	cfg := defaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	keywordClient := cfg.keywordClient
	if keywordClient == nil {
		keywordClient = client
	}

	searcher := NewNodeSearcher(index)
	searcher.maxResults = cfg.maxResults
	searcher.scoreThreshold = cfg.scoreThreshold
	searcher.retry = cfg.searchRetry

	return &Pipeline{
		keywords:   NewKeywordExtractor(keywordClient, cfg.keywordModel),
		searcher:   searcher,
		hydrator:   NewNodeHydrator(blobs, cfg.concurrency, cfg.logger, cfg.metrics),
		synth:      NewWorkflowSynthesizer(client, cfg.workflowModel, cfg.systemPrompt),
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		spans:      cfg.spans,
		includeRaw: cfg.includeRaw,
		bufferSize: cfg.bufferSize,
	}, nil
}

// Stream starts a run and returns its event stream. The channel yields
// progress events followed by exactly one result or error event, then
// closes. Cancelling ctx stops the stream; nothing is sent after that.
//
// Example:
//
//	for ev := range p.Stream(ctx, flowgen.GenerationRequest{Prompt: prompt}) {
//	    if ev.Kind == flowgen.EventResult {
//	        save(ev.Result.Workflow)
//	    }
//	}
func (p *Pipeline) Stream(ctx context.Context, req GenerationRequest) <-chan Event {
	rc := newRunContext(ctx, p.bufferSize)
	go func() {
		defer rc.finish()
		p.run(rc, req)
	}()
	return rc.Events()
}

// Generate runs the pipeline to completion and returns the result.
// An error event is returned as a *RunError.
func (p *Pipeline) Generate(ctx context.Context, req GenerationRequest, onProgress func(ProgressEvent)) (*ResultEvent, error) {
	var result *ResultEvent
	var runErr error
	for ev := range p.Stream(ctx, req) {
		switch ev.Kind {
		case EventProgress:
			if onProgress != nil {
				onProgress(*ev.Progress)
			}
		case EventResult:
			result = ev.Result
		case EventError:
			runErr = &RunError{Event: *ev.Error}
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	if result == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("flowgen: run ended without a result")
	}
	return result, nil
}

func (p *Pipeline) run(rc *RunContext, req GenerationRequest) {
	ctx, runSpan := p.spans.StartRunSpan(rc.Context(), rc.RunID())
	start := time.Now()

	var (
		runErr   error
		lastStep Step
	)
	defer func() {
		if r := recover(); r != nil {
			runErr = &PanicError{Step: lastStep, Value: r, Stack: string(debug.Stack())}
			rc.Fail(&ErrorEvent{Error: MessageUnexpected, Details: runErr.Error()})
		}

		duration := time.Since(start)
		p.metrics.RecordRun(ctx, runErr == nil, duration)
		p.spans.EndSpanWithError(runSpan, runErr)
		if runErr != nil {
			observability.LogRunError(p.logger, rc.RunID(), runErr, float64(duration.Milliseconds()), string(lastStep))
		}
	}()

	if strings.TrimSpace(req.Prompt) == "" {
		runErr = ErrPromptRequired
		rc.Fail(&ErrorEvent{Error: MessagePromptRequired})
		return
	}

	observability.LogRunStart(p.logger, rc.RunID(), len(req.Prompt))

	result, err := p.execute(ctx, rc, req.Prompt, &lastStep)
	if err != nil {
		runErr = err
		rc.Fail(p.errorEvent(err))
		return
	}

	if rc.Succeed(result) {
		observability.LogRunComplete(p.logger, rc.RunID(), float64(time.Since(start).Milliseconds()), len(result.Nodes))
	}
}

// execute drives the stages in order. lastStep tracks the running stage
// for panic reports.
func (p *Pipeline) execute(ctx context.Context, rc *RunContext, prompt string, lastStep *Step) (*ResultEvent, error) {
	var (
		keywords []string
		results  []SearchResult
		nodes    []Node
		workflow json.RawMessage
	)

	err := p.stage(ctx, rc, StepExtractKeywords, "Extracting keywords...", lastStep,
		func(ctx context.Context) (string, map[string]any, error) {
			var err error
			keywords, err = p.keywords.Extract(ctx, prompt)
			if err != nil {
				return "", nil, err
			}
			return "Keywords extracted.", map[string]any{"keywords": keywords}, nil
		})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, rc, StepSearchNodes, "Searching for relevant nodes...", lastStep,
		func(ctx context.Context) (string, map[string]any, error) {
			var err error
			results, err = p.searcher.Search(ctx, keywords)
			if err != nil {
				return "", nil, err
			}
			for _, r := range results {
				if r.Error == "" {
					continue
				}
				observability.LogDegraded(observability.EnrichLogger(p.logger, rc.RunID(), string(StepSearchNodes)),
					string(StepSearchNodes), fgerrors.Degraded(errors.New(r.Error), "search "+r.Query))
				p.spans.AddSpanEvent(ctx, "search.degraded",
					attribute.String("search.query", r.Query),
					attribute.String("search.error", r.Error))
			}
			n := len(candidates(results))
			return fmt.Sprintf("Found %d potential node matches.", n), map[string]any{"rawCount": n}, nil
		})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, rc, StepFetchNodes, "Fetching full node details...", lastStep,
		func(ctx context.Context) (string, map[string]any, error) {
			hydrated, err := p.hydrator.Hydrate(ctx, candidates(results))
			if err != nil {
				return "", nil, err
			}
			nodes = toNodes(Deduplicate(hydrated))
			return fmt.Sprintf("Fetched and deduplicated %d unique nodes.", len(nodes)),
				map[string]any{"uniqueCount": len(nodes)}, nil
		})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, rc, StepParseNodes, "Parsing node content...", lastStep,
		func(ctx context.Context) (string, map[string]any, error) {
			nodes = NormalizeNodes(nodes, observability.EnrichLogger(p.logger, rc.RunID(), string(StepParseNodes)))
			return "Node content parsed.", map[string]any{"nodeCount": len(nodes)}, nil
		})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, rc, StepGenerateWorkflow, "Generating final workflow...", lastStep,
		func(ctx context.Context) (string, map[string]any, error) {
			var err error
			workflow, _, err = p.synth.Synthesize(ctx, prompt, nodes)
			if err != nil {
				return "", nil, err
			}
			return "Workflow generation complete.", nil, nil
		})
	if err != nil {
		return nil, err
	}

	return &ResultEvent{
		Workflow:      workflow,
		Keywords:      keywords,
		SearchResults: results,
		Nodes:         nodes,
	}, nil
}

type stageFunc func(ctx context.Context) (message string, data map[string]any, err error)

// stage runs one step between its started and completed events. A run
// whose consumer is gone stops before the next step starts. A panic in fn
// fails the step with MessageUnexpected after its span and metrics are
// closed out.
func (p *Pipeline) stage(ctx context.Context, rc *RunContext, step Step, startMsg string, lastStep *Step, fn stageFunc) (err error) {
	if rc.Closed() {
		return &StageError{Step: step, Message: MessageUnexpected, Err: context.Canceled}
	}
	*lastStep = step

	logger := observability.EnrichLogger(p.logger, rc.RunID(), string(step))
	rc.Progress(step, StatusStarted, startMsg, nil)
	observability.LogStageStart(logger, string(step))

	stageCtx, span := p.spans.StartStageSpan(ctx, string(step))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Step: step, Value: r, Stack: string(debug.Stack())}
		}
		p.metrics.RecordStage(stageCtx, string(step), time.Since(start), err)
		p.spans.EndSpanWithError(span, err)
		if err == nil {
			return
		}
		observability.LogStageError(logger, string(step), err)
		msg := failureMessage(step)
		var panicErr *PanicError
		if errors.As(err, &panicErr) {
			msg = MessageUnexpected
		}
		err = &StageError{Step: step, Message: msg, Err: err}
	}()

	msg, data, err := fn(stageCtx)
	if err != nil {
		return err
	}
	observability.LogStageComplete(logger, string(step), float64(time.Since(start).Milliseconds()))
	rc.Progress(step, StatusCompleted, msg, data)
	return nil
}

func failureMessage(step Step) string {
	switch step {
	case StepExtractKeywords:
		return MessageExtractFailed
	case StepSearchNodes:
		return MessageSearchFailed
	case StepFetchNodes:
		return MessageFetchFailed
	case StepGenerateWorkflow:
		return MessageGenerateFailed
	}
	return MessageUnexpected
}

// errorEvent maps a run failure onto the event sent to the consumer.
// Causes only travel in Details.
func (p *Pipeline) errorEvent(err error) *ErrorEvent {
	var synthErr *SynthesisError
	if errors.As(err, &synthErr) {
		ev := &ErrorEvent{Error: MessageInvalidJSON, Details: synthErr.Err.Error()}
		if p.includeRaw {
			ev.Content = synthErr.Raw
		}
		return ev
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return &ErrorEvent{Error: stageErr.Message, Details: stageErr.Err.Error()}
	}
	return &ErrorEvent{Error: MessageUnexpected, Details: err.Error()}
}

// candidates flattens the data of every search result.
func candidates(results []SearchResult) []search.Candidate {
	var out []search.Candidate
	for _, r := range results {
		out = append(out, r.Data...)
	}
	return out
}

// LookupResult is the outcome of Lookup.
type LookupResult struct {
	Combined      []Node         `json:"combined"`
	SearchResults []SearchResult `json:"searchResults"`
}

// Lookup searches, hydrates, deduplicates and normalizes nodes for query
// without calling a model.
func (p *Pipeline) Lookup(ctx context.Context, query string) (*LookupResult, error) {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, ErrQueryRequired
	}

	results, err := p.searcher.Search(ctx, terms)
	if err != nil {
		return nil, &StageError{Step: StepSearchNodes, Message: MessageSearchFailed, Err: err}
	}
	hydrated, err := p.hydrator.Hydrate(ctx, candidates(results))
	if err != nil {
		return nil, &StageError{Step: StepFetchNodes, Message: MessageFetchFailed, Err: err}
	}
	nodes := NormalizeNodes(toNodes(Deduplicate(hydrated)), p.logger)
	return &LookupResult{Combined: nodes, SearchResults: results}, nil
}
