package flowgen

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrPromptRequired indicates an empty or blank prompt.
	ErrPromptRequired = errors.New("prompt is required")

	// ErrInvalidKeywordFormat indicates the keyword model output did not
	// match the {"keywords": [...]} contract.
	ErrInvalidKeywordFormat = errors.New("invalid keyword format")

	// ErrInvalidWorkflowJSON indicates the synthesis output did not parse.
	ErrInvalidWorkflowJSON = errors.New("invalid workflow JSON")
)

// Messages carried by ErrorEvents.
const (
	MessagePromptRequired = "Prompt is required"
	MessageExtractFailed  = "Failed to extract keywords"
	MessageSearchFailed   = "Failed to search nodes"
	MessageFetchFailed    = "Failed during node fetching"
	MessageGenerateFailed = "Failed to generate workflow"
	MessageInvalidJSON    = "Invalid JSON from AI"
	MessageUnexpected     = "An unexpected error occurred"
)

// StageError is a fatal failure of one pipeline stage.
type StageError struct {
	// Step is the stage that failed.
	Step Step
	// Message is the caller-facing summary.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %s: %v", e.Step, e.Message, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StageError) Unwrap() error {
	return e.Err
}

// SynthesisError reports model output that is not a JSON document.
// Raw keeps the unparsed text for diagnostics.
type SynthesisError struct {
	Err error
	Raw string
}

// Error implements the error interface.
func (e *SynthesisError) Error() string {
	return fmt.Sprintf("%s: %v", MessageInvalidJSON, e.Err)
}

// Unwrap returns the parse error.
func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrInvalidWorkflowJSON) hold.
func (e *SynthesisError) Is(target error) bool {
	return target == ErrInvalidWorkflowJSON
}

// PanicError captures a panic raised while driving a run.
type PanicError struct {
	// Step is the stage running when the panic occurred, if any.
	Step Step
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("pipeline panicked: %v", e.Value)
	}
	return fmt.Sprintf("stage %s panicked: %v", e.Step, e.Value)
}

// ErrQueryRequired indicates an empty lookup query.
var ErrQueryRequired = errors.New("query is required")

// RunError is a run that ended with an error event.
type RunError struct {
	Event ErrorEvent
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Event.Details == "" {
		return e.Event.Error
	}
	return e.Event.Error + ": " + e.Event.Details
}
