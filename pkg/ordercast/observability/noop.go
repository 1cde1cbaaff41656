package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordPublish does nothing.
func (NoopMetrics) RecordPublish(_ context.Context, _ string, _ int) {}

// RecordConsume does nothing.
func (NoopMetrics) RecordConsume(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordDeadLetter does nothing.
func (NoopMetrics) RecordDeadLetter(_ context.Context, _ string, _ int) {}

// RecordAppend does nothing.
func (NoopMetrics) RecordAppend(_ context.Context, _ string, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartPublishSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartPublishSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartConsumeSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartConsumeSpan(ctx context.Context, _ string, _ int) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
