package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the pipeline tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("ordercast")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartPublishSpan starts a span covering one event's fan-out.
	StartPublishSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span)

	// StartConsumeSpan starts a span for one queue consumption attempt.
	StartConsumeSpan(ctx context.Context, messageID string, receiveCount int) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartPublishSpan starts a span covering one event's fan-out.
func (m *otelSpanManager) StartPublishSpan(ctx context.Context, eventType, messageID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ordercast.publish",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("message.id", messageID),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

// StartConsumeSpan starts a span for one queue consumption attempt.
func (m *otelSpanManager) StartConsumeSpan(ctx context.Context, messageID string, receiveCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ordercast.consume",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.Int("message.receive_count", receiveCount),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
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
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
