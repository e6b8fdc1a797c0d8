package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanManager handles trace span lifecycle.
// Use NewSpanManager for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRequestSpan starts a client span for one backend call.
	StartRequestSpan(ctx context.Context, op, endpoint string) (context.Context, trace.Span)

	// StartStreamSpan starts a span covering an answer stream.
	StartStreamSpan(ctx context.Context, canvasID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager returns a SpanManager using provider, or the global OTel
// tracer provider when provider is nil.
func NewSpanManager(provider trace.TracerProvider) SpanManager {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &otelSpanManager{tracer: provider.Tracer("canvaskit")}
}

// StartRequestSpan starts a client span for one backend call.
func (m *otelSpanManager) StartRequestSpan(ctx context.Context, op, endpoint string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "canvaskit."+op,
		trace.WithAttributes(
			attribute.String("canvaskit.op", op),
			attribute.String("http.route", endpoint),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// StartStreamSpan starts a span covering an answer stream.
func (m *otelSpanManager) StartStreamSpan(ctx context.Context, canvasID string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "canvaskit.stream",
		trace.WithAttributes(attribute.String("canvas.id", canvasID)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
