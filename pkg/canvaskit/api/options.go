package api

import (
	"log/slog"
	"net/http"
	"time"

	ckerrors "github.com/randalmurphal/canvaskit/pkg/canvaskit/errors"
	"github.com/randalmurphal/canvaskit/pkg/canvaskit/observability"
)

type clientConfig struct {
	httpClient      *http.Client
	token           string
	requestTimeout  time.Duration
	retry           ckerrors.RetryPolicy
	breakerFailures uint32
	breakerCooldown time.Duration
	logger          *slog.Logger
	metrics         observability.MetricsRecorder
	spans           observability.SpanManager
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		httpClient:      &http.Client{},
		requestTimeout:  30 * time.Second,
		retry:           ckerrors.DefaultRetryPolicy,
		breakerFailures: 5,
		breakerCooldown: 30 * time.Second,
		logger:          slog.Default(),
		metrics:         observability.NoopMetrics{},
		spans:           observability.NoopSpanManager{},
	}
}

// Option configures an HTTPClient.
type Option func(*clientConfig)

// WithHTTPClient replaces the underlying *http.Client.
// Its Timeout also bounds answer streams, so it should stay zero; use
// WithRequestTimeout and the stream idle timeout instead.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) {
		if c != nil {
			cfg.httpClient = c
		}
	}
}

// WithToken sets the Authorization header.
func WithToken(token string) Option {
	return func(cfg *clientConfig) {
		cfg.token = token
	}
}

// WithRequestTimeout bounds each non-stream request. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) {
		if d >= 0 {
			cfg.requestTimeout = d
		}
	}
}

// WithRetryPolicy sets the policy for idempotent reads.
func WithRetryPolicy(p ckerrors.RetryPolicy) Option {
	return func(cfg *clientConfig) {
		cfg.retry = p
	}
}

// WithBreaker sets how many consecutive transport failures open the circuit
// and how long it stays open.
func WithBreaker(failures int, cooldown time.Duration) Option {
	return func(cfg *clientConfig) {
		if failures > 0 {
			cfg.breakerFailures = uint32(failures)
		}
		if cooldown > 0 {
			cfg.breakerCooldown = cooldown
		}
	}
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) {
		cfg.logger = l
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(cfg *clientConfig) {
		if m != nil {
			cfg.metrics = m
		}
	}
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(cfg *clientConfig) {
		if s != nil {
			cfg.spans = s
		}
	}
}
