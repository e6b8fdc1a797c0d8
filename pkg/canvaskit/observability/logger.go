// Package observability provides structured logging, metrics and tracing
// helpers for the canvaskit client core.
//
// Logging uses slog. Metrics and tracing use OpenTelemetry and fall back to
// no-op implementations when disabled. Every Log helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger scopes a logger to one canvas and conversation.
func EnrichLogger(logger *slog.Logger, canvasID, conversationID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("canvas_id", canvasID),
		slog.String("conversation_id", conversationID),
	)
}

// LogSave logs a successful canvas save.
func LogSave(logger *slog.Logger, canvasID string, sizeBytes int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("canvas saved",
		slog.String("canvas_id", canvasID),
		slog.Int("size_bytes", sizeBytes),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogSaveError logs a failed save. The editor keeps its local graph.
func LogSaveError(logger *slog.Logger, canvasID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("canvas save failed",
		slog.String("canvas_id", canvasID),
		slog.String("error", err.Error()),
	)
}

// LogRunStart logs the start of a streamed run.
func LogRunStart(logger *slog.Logger, canvasID string, hasMessage bool) {
	if logger == nil {
		return
	}
	logger.Info("canvas run starting",
		slog.String("canvas_id", canvasID),
		slog.Bool("has_message", hasMessage),
	)
}

// LogStreamComplete logs a stream that reached its terminal frame.
func LogStreamComplete(logger *slog.Logger, deltas int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("answer stream completed",
		slog.Int("deltas", deltas),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogStreamError logs a stream that ended with an error.
func LogStreamError(logger *slog.Logger, deltas int, err error) {
	if logger == nil {
		return
	}
	logger.Error("answer stream failed",
		slog.Int("deltas", deltas),
		slog.String("error", err.Error()),
	)
}

// LogTurnRollback logs a send that failed before any answer arrived.
func LogTurnRollback(logger *slog.Logger, messageID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("turn rolled back",
		slog.String("message_id", messageID),
		slog.String("error", err.Error()),
	)
}

// LogUpload logs the terminal state of one attachment.
func LogUpload(logger *slog.Logger, uid, name string, documentIDs []string, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("attachment upload failed",
			slog.String("uid", uid),
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("attachment uploaded",
		slog.String("uid", uid),
		slog.String("name", name),
		slog.Any("document_ids", documentIDs),
	)
}

// TimedOperation returns a function reporting elapsed milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
