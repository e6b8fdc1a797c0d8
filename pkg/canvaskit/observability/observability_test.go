package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

// TestLogHelpers_NilLogger verifies every helper tolerates a nil logger.
func TestLogHelpers_NilLogger(t *testing.T) {
	err := errors.New("boom")
	assert.NotPanics(t, func() {
		assert.Nil(t, EnrichLogger(nil, "c", "v"))
		LogSave(nil, "c", 10, 1)
		LogSaveError(nil, "c", err)
		LogRunStart(nil, "c", true)
		LogStreamComplete(nil, 3, 1)
		LogStreamError(nil, 3, err)
		LogTurnRollback(nil, "m", err)
		LogUpload(nil, "u", "a.pdf", nil, err)
	})
}

func TestEnrichLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := EnrichLogger(newJSONLogger(&buf), "canvas-1", "conv-1")
	LogSaveError(logger, "canvas-1", errors.New("HTTP 500"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "conv-1", lines[0]["conversation_id"])
	assert.Equal(t, "HTTP 500", lines[0]["error"])
}

func TestLogUpload(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(&buf)

	LogUpload(logger, "u1", "a.pdf", []string{"d1"}, nil)
	LogUpload(logger, "u2", "b.pdf", nil, errors.New("parse failed"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "attachment uploaded", lines[0]["msg"])
	assert.Equal(t, []any{"d1"}, lines[0]["document_ids"])
	assert.Equal(t, "attachment upload failed", lines[1]["msg"])
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(1))
}

func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// TestMetricsRecorder verifies requests and errors are counted per op.
func TestMetricsRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	rec := NewMetricsRecorder(provider)
	_, isNoop := rec.(NoopMetrics)
	require.False(t, isNoop)

	ctx := context.Background()
	rec.RecordRequest(ctx, "get_canvas", 5*time.Millisecond, nil)
	rec.RecordSave(ctx, 512, time.Millisecond, nil)
	rec.RecordSave(ctx, 0, time.Millisecond, errors.New("HTTP 500"))
	rec.RecordStream(ctx, 4, 10*time.Millisecond, nil)
	rec.RecordUpload(ctx, 2048, nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	requests := findMetric(&rm, "canvaskit.requests")
	require.NotNil(t, requests)
	var total int64
	for _, dp := range requests.Data.(metricdata.Sum[int64]).DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(4), total)

	errs := findMetric(&rm, "canvaskit.request.errors")
	require.NotNil(t, errs)
	assert.Equal(t, int64(1), errs.Data.(metricdata.Sum[int64]).DataPoints[0].Value)

	uploads := findMetric(&rm, "canvaskit.uploads")
	require.NotNil(t, uploads)
	assert.NotNil(t, findMetric(&rm, "canvaskit.save.size_bytes"))
}

func TestSpanManager(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	sm := NewSpanManager(tp)
	ctx, span := sm.StartRequestSpan(context.Background(), "set_canvas", "/v1/canvas/set")
	sm.AddSpanEvent(ctx, "retry")
	sm.EndSpanWithError(span, errors.New("HTTP 502"))

	_, streamSpan := sm.StartStreamSpan(context.Background(), "c1")
	sm.EndSpanWithError(streamSpan, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "canvaskit.set_canvas", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.Len(t, spans[0].Events, 2)
	assert.Equal(t, "retry", spans[0].Events[0].Name)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
}

func TestNoop(t *testing.T) {
	var sm SpanManager = NoopSpanManager{}
	ctx := context.Background()
	got, span := sm.StartRequestSpan(ctx, "x", "/x")
	assert.Equal(t, ctx, got)
	assert.False(t, span.IsRecording())

	var rec MetricsRecorder = NoopMetrics{}
	assert.NotPanics(t, func() { rec.RecordUpload(ctx, 1, nil) })
}
