package flowgen

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// RunContext is the per-run state of the orchestrator: the output
// channel, the closed and terminal flags, and the event ID source.
//
// Only the goroutine driving the run calls Emit, Succeed, Fail and
// finish. Abort may be called from anywhere.
type RunContext struct {
	ctx   context.Context
	runID string
	out   chan Event

	closed    atomic.Bool
	done      chan struct{}
	abortOnce sync.Once

	mu       sync.Mutex // guards terminal, finished and entropy; never held across a send
	terminal bool
	finished bool
	entropy  *ulid.MonotonicEntropy
	sending  sync.WaitGroup

	finishOnce sync.Once
	stopAfter  func() bool
}

// newRunContext creates a RunContext that aborts when ctx is done.
func newRunContext(ctx context.Context, buffer int) *RunContext {
	rc := &RunContext{
		ctx:     ctx,
		runID:   uuid.NewString(),
		out:     make(chan Event, buffer),
		done:    make(chan struct{}),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	rc.stopAfter = context.AfterFunc(ctx, rc.Abort)
	return rc
}

// Context returns the run's context.
func (rc *RunContext) Context() context.Context { return rc.ctx }

// RunID returns the unique identifier of the run.
func (rc *RunContext) RunID() string { return rc.runID }

// Events returns the receive side of the stream.
func (rc *RunContext) Events() <-chan Event { return rc.out }

// Closed reports whether the consumer has gone away. Once true, every
// later emission is suppressed.
func (rc *RunContext) Closed() bool { return rc.closed.Load() || rc.ctx.Err() != nil }

// Abort marks the run closed and unblocks any pending send.
func (rc *RunContext) Abort() {
	rc.abortOnce.Do(func() {
		rc.closed.Store(true)
		close(rc.done)
	})
}

// Terminated reports whether a terminal event has been emitted or is
// being delivered.
func (rc *RunContext) Terminated() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.terminal
}

// Progress emits a stage transition. Returns false if it was suppressed.
func (rc *RunContext) Progress(step Step, status Status, message string, data map[string]any) bool {
	return rc.emit(Event{
		Kind:     EventProgress,
		Progress: &ProgressEvent{Step: step, Status: status, Message: message, Data: data},
	})
}

// Succeed emits the result. Returns false if it was suppressed.
func (rc *RunContext) Succeed(result *ResultEvent) bool {
	return rc.emit(Event{Kind: EventResult, Result: result})
}

// Fail emits an error. Returns false if it was suppressed.
func (rc *RunContext) Fail(ev *ErrorEvent) bool {
	return rc.emit(Event{Kind: EventError, Error: ev})
}

func (rc *RunContext) emit(ev Event) bool {
	rc.mu.Lock()
	if rc.terminal || rc.finished || rc.closed.Load() || rc.ctx.Err() != nil {
		rc.mu.Unlock()
		return false
	}
	// A terminal event claims the slot before it is sent, so a second one
	// racing it is suppressed.
	if ev.Terminal() {
		rc.terminal = true
	}
	ev.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rc.entropy).String()
	rc.sending.Add(1)
	rc.mu.Unlock()
	defer rc.sending.Done()

	select {
	case rc.out <- ev:
		return true
	case <-rc.done:
		return false
	}
}

// finish closes the stream once pending sends have returned. Safe to call
// more than once.
func (rc *RunContext) finish() {
	rc.finishOnce.Do(func() {
		rc.stopAfter()
		rc.mu.Lock()
		rc.finished = true
		rc.mu.Unlock()
		rc.sending.Wait()
		close(rc.out)
	})
}
