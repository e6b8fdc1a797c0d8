package dsl

import (
	"errors"
	"fmt"

	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
)

// Sentinel errors for graph edits and loading.
var (
	// ErrInvalidGraph indicates an edit or document that would break a standing
	// invariant: zero or multiple Begin nodes, a dangling edge, or a malformed node.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrNodeNotFound indicates an operation referenced a node id that does not exist.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound indicates an operation referenced an edge id that does not exist.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrDecode indicates the serialized document is not valid DSL JSON.
	ErrDecode = errors.New("decode dsl")
)

// GraphError wraps a structural failure with the operation and element involved.
// The graph the operation was applied to is always left unchanged.
type GraphError struct {
	// Op is the operation that failed ("add_node", "connect", "load", ...).
	Op string
	// ID is the node or edge id involved, if any.
	ID string
	// Reason is a short human-readable description.
	Reason string
	// Err is the sentinel category (ErrInvalidGraph, ErrNodeNotFound, ...).
	Err error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("dsl %s %s: %s: %v", e.Op, e.ID, e.Reason, e.Err)
	}
	return fmt.Sprintf("dsl %s: %s: %v", e.Op, e.Reason, e.Err)
}

// Unwrap returns the sentinel for errors.Is support.
func (e *GraphError) Unwrap() error {
	return e.Err
}

// Category marks every graph error as structural.
func (e *GraphError) Category() ckerrors.Category {
	return ckerrors.CategoryStructuralGraph
}

func invalid(op, id, reason string) error {
	return &GraphError{Op: op, ID: id, Reason: reason, Err: ErrInvalidGraph}
}
