// Package errors classifies failures by how the generation service reacts
// to them.
//
// The taxonomy mirrors the request lifecycle:
//   - Rejection: the call is refused before any pipeline work starts
//   - Fatal: a stage failed and the run terminates with one error event
//   - PerItem: a single candidate degraded, the run continues
//   - Degraded: a collaborator reported a soft failure, the run continues
package errors

import (
	"errors"
	"fmt"
)

// Category represents how an error is surfaced to the caller.
type Category int

const (
	// CategoryFatal terminates the run with an error event.
	// Examples: keyword extraction failure, malformed AI output, panics.
	CategoryFatal Category = iota

	// CategoryRejection refuses the request before the pipeline starts.
	// Examples: unauthenticated caller, exhausted quota, empty prompt.
	CategoryRejection

	// CategoryPerItem degrades one item without failing the run.
	// Examples: a blob fetch miss, node content that is not JSON.
	CategoryPerItem

	// CategoryDegraded continues the run with reduced context.
	// Examples: the search provider reporting an error for the query.
	CategoryDegraded
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFatal:
		return "fatal"
	case CategoryRejection:
		return "rejection"
	case CategoryPerItem:
		return "per_item"
	case CategoryDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error is surfaced.
	Category Category

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%s (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Rejection creates a rejection error.
func Rejection(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryRejection, context)
}

// Degraded creates a degraded error.
func Degraded(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryDegraded, context)
}

// Categorize determines how an error is surfaced.
// Unknown errors are fatal.
func Categorize(err error) Category {
	if err == nil {
		return CategoryFatal
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		return CategoryPerItem
	}

	return CategoryFatal
}

// IsRejection reports whether the error refuses the request up front.
func IsRejection(err error) bool {
	return Categorize(err) == CategoryRejection
}
