package canvas

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/config"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/snapshot"
)

// DefaultDebounce is how long edits must settle before Watch saves.
const DefaultDebounce = config.DefaultSaveDebounce

type persisterConfig struct {
	debounce  time.Duration
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	events    event.Publisher
	snapshots snapshot.Store
}

func defaultPersisterConfig() persisterConfig {
	return persisterConfig{
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		events:   event.Discard{},
	}
}

// Option configures a Persister.
type Option func(*persisterConfig)

// WithDebounce sets the quiet period Watch waits for after an edit.
func WithDebounce(d time.Duration) Option {
	return func(c *persisterConfig) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *persisterConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *persisterConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPublisher sets where save results are published.
func WithPublisher(p event.Publisher) Option {
	return func(c *persisterConfig) {
		if p != nil {
			c.events = p
		}
	}
}

// WithSnapshots records every successful save in store.
func WithSnapshots(store snapshot.Store) Option {
	return func(c *persisterConfig) {
		c.snapshots = store
	}
}
