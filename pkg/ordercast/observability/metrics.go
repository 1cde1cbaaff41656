package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pipeline metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records one published event with its accepted
	// delivery count.
	RecordPublish(ctx context.Context, eventType string, deliveries int)

	// RecordConsume records one queue consumption with its duration
	// and error status.
	RecordConsume(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordDeadLetter records one quarantined message.
	RecordDeadLetter(ctx context.Context, eventType string, attempts int)

	// RecordAppend records one event-log append.
	RecordAppend(ctx context.Context, eventType string, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes      metric.Int64Counter
	consumes       metric.Int64Counter
	consumeLatency metric.Float64Histogram
	consumeErrors  metric.Int64Counter
	deadLetters    metric.Int64Counter
	appends        metric.Int64Counter
	appendErrors   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily initializes the OTel metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("ordercast")

	publishes, err := meter.Int64Counter("ordercast.topic.publishes",
		metric.WithDescription("Number of published events"),
	)
	if err != nil {
		return nil, err
	}

	consumes, err := meter.Int64Counter("ordercast.queue.consumes",
		metric.WithDescription("Number of queue consumption attempts"),
	)
	if err != nil {
		return nil, err
	}

	consumeLatency, err := meter.Float64Histogram("ordercast.queue.consume_latency_ms",
		metric.WithDescription("Queue consumption latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	consumeErrors, err := meter.Int64Counter("ordercast.queue.consume_errors",
		metric.WithDescription("Number of failed queue consumptions"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("ordercast.queue.dead_letters",
		metric.WithDescription("Number of dead-lettered messages"),
	)
	if err != nil {
		return nil, err
	}

	appends, err := meter.Int64Counter("ordercast.store.appends",
		metric.WithDescription("Number of event-log appends"),
	)
	if err != nil {
		return nil, err
	}

	appendErrors, err := meter.Int64Counter("ordercast.store.append_errors",
		metric.WithDescription("Number of failed event-log appends"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:      publishes,
		consumes:       consumes,
		consumeLatency: consumeLatency,
		consumeErrors:  consumeErrors,
		deadLetters:    deadLetters,
		appends:        appends,
		appendErrors:   appendErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records one published event.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, deliveries int) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.Int("deliveries", deliveries),
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordConsume records one queue consumption.
func (m *otelMetrics) RecordConsume(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.consumes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.consumeLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.consumeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordDeadLetter records one quarantined message.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType string, attempts int) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.Int("attempts", attempts),
	}
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAppend records one event-log append.
func (m *otelMetrics) RecordAppend(ctx context.Context, eventType string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.appends.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.appendErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
