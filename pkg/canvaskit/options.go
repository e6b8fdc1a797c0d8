package canvaskit

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type clientConfig struct {
	logger         *slog.Logger
	httpClient     *http.Client
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metrics        bool
	tracing        bool
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		logger: slog.Default(),
	}
}

// Option configures a Client.
type Option func(*clientConfig)

// WithLogger sets the logger shared by every component. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *clientConfig) {
		c.logger = l
	}
}

// WithHTTPClient replaces the *http.Client used for backend calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = hc
	}
}

// WithMetrics enables OpenTelemetry metrics. A nil provider uses the global one.
func WithMetrics(provider metric.MeterProvider) Option {
	return func(c *clientConfig) {
		c.metrics = true
		c.meterProvider = provider
	}
}

// WithTracing enables OpenTelemetry spans. A nil provider uses the global one.
func WithTracing(provider trace.TracerProvider) Option {
	return func(c *clientConfig) {
		c.tracing = true
		c.tracerProvider = provider
	}
}
