package session

import (
	"errors"
	"fmt"

	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
)

var (
	// ErrBusy means a turn is in flight or an attachment is still uploading.
	ErrBusy = errors.New("session busy")

	// ErrEmpty means there is nothing to send.
	ErrEmpty = errors.New("empty submission")

	// ErrClosed means the session has been closed.
	ErrClosed = errors.New("session closed")
)

// TurnError is a send that failed before any answer content arrived. The
// optimistic question has been removed and the draft restored.
type TurnError struct {
	QuestionID string
	Err        error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s failed: %v", e.QuestionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Err
}

// Category implements ckerrors.Categorized.
func (e *TurnError) Category() ckerrors.Category {
	return ckerrors.CategoryTurn
}
