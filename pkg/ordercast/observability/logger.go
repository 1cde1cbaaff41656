// Package observability provides structured logging, metrics, and
// distributed tracing for the event pipeline.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
// Returns a new logger with message_id, event_type, and request_id fields.
func EnrichLogger(logger *slog.Logger, messageID, eventType, requestID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("message_id", messageID),
		slog.String("event_type", eventType),
		slog.String("request_id", requestID),
	)
}

// LogPublish logs the acceptance of a published event.
func LogPublish(logger *slog.Logger, messageID, eventType string, deliveries int) {
	if logger == nil {
		return
	}
	logger.Info("event published",
		slog.String("message_id", messageID),
		slog.String("event_type", eventType),
		slog.Int("deliveries", deliveries),
	)
}

// LogDeliveryError logs a subscriber's handler failure. Fan-out
// continues; the error never reaches the publisher.
func LogDeliveryError(logger *slog.Logger, subscriber, messageID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("delivery failed",
		slog.String("subscriber", subscriber),
		slog.String("message_id", messageID),
		slog.String("error", err.Error()),
	)
}

// LogConsume logs one queue consumption outcome.
func LogConsume(logger *slog.Logger, messageID string, receiveCount int, durationMs float64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Warn("consume failed",
			slog.String("message_id", messageID),
			slog.Int("receive_count", receiveCount),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("consume completed",
		slog.String("message_id", messageID),
		slog.Int("receive_count", receiveCount),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogDeadLetter logs a message quarantined after exhausting retries.
func LogDeadLetter(logger *slog.Logger, messageID string, attempts int, lastError string) {
	if logger == nil {
		return
	}
	logger.Error("message dead-lettered",
		slog.String("message_id", messageID),
		slog.Int("attempts", attempts),
		slog.String("last_error", lastError),
	)
}

// LogAppend logs an event-log append.
func LogAppend(logger *slog.Logger, pk, sk string) {
	if logger == nil {
		return
	}
	logger.Debug("event appended",
		slog.String("pk", pk),
		slog.String("sk", sk),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in
// milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
