// Package snapshot keeps saved canvas versions on the client for offline
// recovery.
package snapshot

import (
	"errors"
	"time"
)

// Store persists saved canvas graphs, one version per distinct hash.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save records data as the newest version of the canvas. Saving the
	// same hash as the newest version is a no-op.
	Save(canvasID string, hash uint64, data []byte) error

	// Load retrieves one version.
	// Returns ErrNotFound if it doesn't exist.
	Load(canvasID string, version int) (*Snapshot, error)

	// Latest retrieves the newest version.
	// Returns ErrNotFound if the canvas has none.
	Latest(canvasID string) (*Snapshot, error)

	// List returns version metadata, oldest first.
	// Returns an empty slice (not error) for an unknown canvas.
	List(canvasID string) ([]Info, error)

	// DeleteCanvas removes every version of a canvas.
	DeleteCanvas(canvasID string) error

	// Close releases any resources.
	Close() error
}

// Info describes a version without its data.
type Info struct {
	CanvasID string
	Version  int
	Hash     uint64
	SavedAt  time.Time
	Size     int64
}

// Snapshot is one stored version.
type Snapshot struct {
	Info
	Data []byte
}

var (
	// ErrNotFound indicates a version doesn't exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("snapshot store closed")
)
