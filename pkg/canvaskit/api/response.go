// Package api defines the backend contract canvaskit consumes: the
// {code, data, message} response envelope, the canvas and document
// services, and an HTTP implementation of both.
package api

import (
	"errors"
	"fmt"

	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
)

// Envelope codes.
const (
	CodeSuccess    = 0
	CodePermission = 109
	CodeServer     = 500
)

var (
	// ErrPermission matches envelopes carrying CodePermission. Callers degrade
	// to a read-only or empty view instead of failing.
	ErrPermission = errors.New("permission denied")

	// ErrFailure matches every other non-success envelope.
	ErrFailure = errors.New("request failed")
)

// Response is the backend's uniform result envelope.
type Response[T any] struct {
	Code    int    `json:"code"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

// OK reports whether the envelope carries the success code.
func (r Response[T]) OK() bool {
	return r.Code == CodeSuccess
}

// Err returns nil on success and an *APIError otherwise.
func (r Response[T]) Err(op string) error {
	if r.OK() {
		return nil
	}
	return &APIError{Op: op, Code: r.Code, Message: r.Message}
}

// APIError is a well-formed envelope with a non-success code.
type APIError struct {
	Op      string
	Code    int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: code %d: %s", e.Op, e.Code, e.Message)
}

// Unwrap maps the code onto ErrPermission or ErrFailure.
func (e *APIError) Unwrap() error {
	if e.Code == CodePermission {
		return ErrPermission
	}
	return ErrFailure
}

// Category implements ckerrors.Categorized.
func (e *APIError) Category() ckerrors.Category {
	if e.Code == CodePermission {
		return ckerrors.CategoryPermission
	}
	return ckerrors.CategoryTransport
}

// IsPermission reports whether err carries the permission code.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}
