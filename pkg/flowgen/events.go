package flowgen

import (
	"encoding/json"
)

// EventKind distinguishes stream events.
type EventKind string

// Event kinds. Result and error are terminal.
const (
	EventProgress EventKind = "progress"
	EventResult   EventKind = "result"
	EventError    EventKind = "error"
)

// Event is one item on a run's stream. Exactly one of Progress, Result
// and Error is set, matching Kind.
type Event struct {
	// ID increases monotonically within a run.
	ID   string    `json:"id"`
	Kind EventKind `json:"type"`

	Progress *ProgressEvent `json:"progress,omitempty"`
	Result   *ResultEvent   `json:"result,omitempty"`
	Error    *ErrorEvent    `json:"error,omitempty"`
}

// Terminal reports whether the event ends the run.
func (e Event) Terminal() bool {
	return e.Kind == EventResult || e.Kind == EventError
}

// Payload returns the kind-specific body.
func (e Event) Payload() any {
	switch e.Kind {
	case EventProgress:
		return e.Progress
	case EventResult:
		return e.Result
	case EventError:
		return e.Error
	}
	return nil
}

// ProgressEvent reports a stage transition.
type ProgressEvent struct {
	Step    Step           `json:"step"`
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// ResultEvent is the successful end of a run.
type ResultEvent struct {
	Workflow      json.RawMessage `json:"workflow"`
	Keywords      []string        `json:"keywords"`
	SearchResults []SearchResult  `json:"searchResults"`
	Nodes         []Node          `json:"nodes"`
}

// ErrorEvent is the failed end of a run. Content carries raw model output
// when the pipeline is configured to expose it.
type ErrorEvent struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Content string `json:"content,omitempty"`
}
