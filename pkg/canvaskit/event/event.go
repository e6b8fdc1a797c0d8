// Package event provides the in-process bus canvaskit uses to tell a UI
// layer what changed: turn state, the message list, attachments, saves and
// user-visible notifications.
//
// Events are delivered asynchronously and in publish order per subscription.
// Publishing never blocks the caller; a full subscriber buffer drops the
// event and reports it through BusConfig.OnDrop.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by canvaskit.
const (
	TypeTurnChanged       = "session.turn_changed"
	TypeMessagesChanged   = "session.messages_changed"
	TypeAttachmentChanged = "attachment.changed"
	TypeCanvasSaved       = "canvas.saved"
	TypeCanvasSaveFailed  = "canvas.save_failed"
	TypeNotification      = "notification"
)

// Event is an immutable notification.
type Event struct {
	// ID is unique per event.
	ID string

	// Type is one of the Type* constants.
	Type string

	// Source names the emitting scope, such as a canvas or conversation id.
	Source string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Data is the typed payload; its concrete type depends on Type.
	Data any
}

// New creates an event with a fresh id and the current time.
func New(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// Payload extracts the event's data as T.
func Payload[T any](evt Event) (T, bool) {
	v, ok := evt.Data.(T)
	return v, ok
}
