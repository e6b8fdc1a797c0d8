package stream

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
)

// Mode says how the backend fills the answer field of successive frames.
type Mode string

const (
	// Cumulative frames carry the full answer so far.
	Cumulative Mode = "cumulative"

	// Incremental frames carry only the new suffix.
	Incremental Mode = "incremental"
)

type transportConfig struct {
	mode    Mode
	idle    time.Duration
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

func defaultTransportConfig() transportConfig {
	return transportConfig{
		mode:    Cumulative,
		idle:    2 * time.Minute,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures a Transport.
type Option func(*transportConfig)

// WithMode sets the accumulation mode. Default: Cumulative.
func WithMode(m Mode) Option {
	return func(c *transportConfig) {
		if m == Cumulative || m == Incremental {
			c.mode = m
		}
	}
}

// WithIdleTimeout closes a stream that delivers no frame for d.
// Zero disables it. Default: 2m.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *transportConfig) {
		if d >= 0 {
			c.idle = d
		}
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *transportConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *transportConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *transportConfig) {
		if s != nil {
			c.spans = s
		}
	}
}
