package session

import (
	"log/slog"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
)

type sessionConfig struct {
	logger      *slog.Logger
	events      event.Publisher
	attachments AttachmentSource
}

func defaultSessionConfig() sessionConfig {
	return sessionConfig{
		logger: slog.Default(),
		events: event.Discard{},
	}
}

// Option configures a Session.
type Option func(*sessionConfig)

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = l
	}
}

// WithPublisher sets where turn and message changes are published.
// Events are published while the session lock is held, so p must not block
// or call back into the session.
func WithPublisher(p event.Publisher) Option {
	return func(c *sessionConfig) {
		if p != nil {
			c.events = p
		}
	}
}

// WithAttachments connects the input surface's attachment list. Submit
// then refuses to send while it is uploading and takes its ids and images.
func WithAttachments(src AttachmentSource) Option {
	return func(c *sessionConfig) {
		c.attachments = src
	}
}
