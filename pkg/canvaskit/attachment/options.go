package attachment

import (
	"log/slog"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/event"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
)

// Surface selects how uploaded documents are removed.
type Surface int

const (
	// Shared conversations delete every id of the attachment.
	Shared Surface = iota

	// Owner surfaces remove the attachment's first id.
	Owner
)

type pipelineConfig struct {
	surface     Surface
	concurrency int
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	events      event.Publisher
}

func defaultPipelineConfig() pipelineConfig {
	return pipelineConfig{
		surface:     Shared,
		concurrency: 4,
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		events:      event.Discard{},
	}
}

// Option configures a Pipeline.
type Option func(*pipelineConfig)

// WithSurface sets the removal surface. Default: Shared.
func WithSurface(s Surface) Option {
	return func(c *pipelineConfig) {
		c.surface = s
	}
}

// WithConcurrency bounds parallel uploads. Default: 4.
func WithConcurrency(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *pipelineConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *pipelineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPublisher sets where attachment changes are published.
func WithPublisher(p event.Publisher) Option {
	return func(c *pipelineConfig) {
		if p != nil {
			c.events = p
		}
	}
}
