package errors

import (
	"fmt"
	"net/http"
)

// HTTPError is a non-success answer from an HTTP collaborator whose body
// carried no structured error.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Transient implements Transient. Timeouts, throttling and server errors
// may clear up; other statuses will not.
func (e *HTTPError) Transient() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode == http.StatusNotImplemented:
		return false
	default:
		return e.StatusCode >= 500
	}
}

// JSONParseError indicates failure to parse JSON from LLM output.
// Input keeps the raw text for diagnostics.
type JSONParseError struct {
	Input   string
	Message string
}

// Error implements the error interface.
func (e *JSONParseError) Error() string {
	return fmt.Sprintf("JSON parse error: %s", e.Message)
}

// ValidationError indicates LLM output that parsed but has the wrong shape.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ItemError records a failure confined to one item of a batch.
type ItemError struct {
	// Item identifies the item, e.g. a blob key.
	Item string
	// Op is the operation that failed ("fetch", "parse").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Item, e.Err)
}

// Unwrap returns the underlying error.
func (e *ItemError) Unwrap() error {
	return e.Err
}
