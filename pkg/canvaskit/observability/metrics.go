package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records canvaskit metrics.
// Use NewMetricsRecorder for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordRequest records one backend request.
	RecordRequest(ctx context.Context, op string, duration time.Duration, err error)

	// RecordSave records a canvas save and the serialized document size.
	RecordSave(ctx context.Context, sizeBytes int64, duration time.Duration, err error)

	// RecordStream records a finished answer stream.
	RecordStream(ctx context.Context, deltas int, duration time.Duration, err error)

	// RecordUpload records one attachment reaching a terminal state.
	RecordUpload(ctx context.Context, sizeBytes int64, err error)
}

type otelMetrics struct {
	requests      metric.Int64Counter
	requestErrors metric.Int64Counter
	latency       metric.Float64Histogram
	saveSize      metric.Int64Histogram
	streamDeltas  metric.Int64Histogram
	uploads       metric.Int64Counter
	uploadSize    metric.Int64Histogram
}

func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter("canvaskit")

	requests, err := meter.Int64Counter("canvaskit.requests",
		metric.WithDescription("Number of backend operations"),
	)
	if err != nil {
		return nil, err
	}

	requestErrors, err := meter.Int64Counter("canvaskit.request.errors",
		metric.WithDescription("Number of failed backend operations"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("canvaskit.request.latency_ms",
		metric.WithDescription("Backend operation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	saveSize, err := meter.Int64Histogram("canvaskit.save.size_bytes",
		metric.WithDescription("Serialized canvas size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	streamDeltas, err := meter.Int64Histogram("canvaskit.stream.deltas",
		metric.WithDescription("Deltas delivered per answer stream"),
	)
	if err != nil {
		return nil, err
	}

	uploads, err := meter.Int64Counter("canvaskit.uploads",
		metric.WithDescription("Number of attachments reaching a terminal state"),
	)
	if err != nil {
		return nil, err
	}

	uploadSize, err := meter.Int64Histogram("canvaskit.upload.size_bytes",
		metric.WithDescription("Uploaded attachment size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		requests:      requests,
		requestErrors: requestErrors,
		latency:       latency,
		saveSize:      saveSize,
		streamDeltas:  streamDeltas,
		uploads:       uploads,
		uploadSize:    uploadSize,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder backed by provider, or by the
// global OTel meter provider when provider is nil. If instrument creation
// fails it logs a warning and returns a no-op recorder.
func NewMetricsRecorder(provider metric.MeterProvider) MetricsRecorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m, err := newOtelMetrics(provider)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) record(ctx context.Context, op string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	)
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.requestErrors.Add(ctx, 1, attrs)
	}
}

// RecordRequest records one backend request.
func (m *otelMetrics) RecordRequest(ctx context.Context, op string, duration time.Duration, err error) {
	m.record(ctx, op, duration, err)
}

// RecordSave records a canvas save.
func (m *otelMetrics) RecordSave(ctx context.Context, sizeBytes int64, duration time.Duration, err error) {
	m.record(ctx, "save", duration, err)
	if err == nil {
		m.saveSize.Record(ctx, sizeBytes)
	}
}

// RecordStream records a finished answer stream.
func (m *otelMetrics) RecordStream(ctx context.Context, deltas int, duration time.Duration, err error) {
	m.record(ctx, "stream", duration, err)
	m.streamDeltas.Record(ctx, int64(deltas))
}

// RecordUpload records one attachment reaching a terminal state.
func (m *otelMetrics) RecordUpload(ctx context.Context, sizeBytes int64, err error) {
	m.uploads.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err == nil {
		m.uploadSize.Record(ctx, sizeBytes)
	}
}
