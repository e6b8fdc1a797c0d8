// Package errors provides the canvaskit error taxonomy and retry helpers.
//
// Every failure the core can surface falls into one category:
//   - StructuralGraph: an edit or document that breaks a graph invariant
//   - Transport: a save, run, list or stream request that failed
//   - Permission: the backend answered with the permission code
//   - Attachment: one file's upload or parse failed
//   - Turn: a chat turn failed before any answer arrived
//
// Error types in other packages declare their own category by implementing
// Categorized, so this package has no dependencies on them.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category identifies which part of the system an error belongs to.
type Category int

const (
	// CategoryUnknown is used for errors nothing claims.
	CategoryUnknown Category = iota

	// CategoryStructuralGraph marks rejected graph edits and invalid documents.
	CategoryStructuralGraph

	// CategoryTransport marks failed backend requests and dropped streams.
	CategoryTransport

	// CategoryPermission marks the backend's permission code. Callers degrade
	// to a read-only or empty view instead of failing.
	CategoryPermission

	// CategoryAttachment marks a single file's upload or parse failure.
	CategoryAttachment

	// CategoryTurn marks a send that failed before streaming started.
	CategoryTurn
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryStructuralGraph:
		return "structural_graph"
	case CategoryTransport:
		return "transport"
	case CategoryPermission:
		return "permission"
	case CategoryAttachment:
		return "attachment"
	case CategoryTurn:
		return "turn"
	default:
		return "unknown"
	}
}

// Categorized is implemented by error types that know their category.
type Categorized interface {
	error
	Category() Category
}

// CategorizedError wraps an error with an explicit category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Cat is the assigned category.
	Cat Category

	// Context describes what operation was being attempted.
	Context string

	// Retries is the number of attempts that have been made.
	Retries int
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)", e.Context, e.Err, e.Cat, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)", e.Err, e.Cat, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Category implements Categorized.
func (e *CategorizedError) Category() Category {
	return e.Cat
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{Err: err, Cat: category, Context: context}
}

// Transport marks err as a transport failure.
func Transport(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransport, context)
}

// Categorize returns the category of err. The outermost Categorized error in
// the chain wins; context and network errors count as transport failures.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var cat Categorized
	if errors.As(err, &cat) {
		return cat.Category()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransport
	}
	return CategoryUnknown
}

// IsRetryable reports whether repeating the same request may succeed.
// Only transport-level trouble qualifies: 429 and 5xx responses, timeouts,
// and network errors. Envelope failures and permission errors never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
