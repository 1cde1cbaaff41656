package observability_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ordercast/ordercast/pkg/ordercast/observability"
)

// TestNewMetricsRecorder verifies construction against a real SDK provider.
func TestNewMetricsRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)
	defer provider.Shutdown(context.Background())

	m := observability.NewMetricsRecorder()
	require.NotNil(t, m)

	// Recording must not panic regardless of outcome.
	ctx := context.Background()
	m.RecordPublish(ctx, "CREATED", 3)
	m.RecordConsume(ctx, "CREATED", 15*time.Millisecond, nil)
	m.RecordConsume(ctx, "CREATED", 15*time.Millisecond, stderrors.New("boom"))
	m.RecordDeadLetter(ctx, "CREATED", 4)
	m.RecordAppend(ctx, "CREATED", nil)
	m.RecordAppend(ctx, "CREATED", stderrors.New("locked"))
}

// TestNoopMetrics verifies the disabled path is inert.
func TestNoopMetrics(t *testing.T) {
	var m observability.MetricsRecorder = observability.NoopMetrics{}
	ctx := context.Background()

	m.RecordPublish(ctx, "CREATED", 1)
	m.RecordConsume(ctx, "CREATED", time.Second, stderrors.New("ignored"))
	m.RecordDeadLetter(ctx, "CREATED", 4)
	m.RecordAppend(ctx, "CREATED", nil)
}

// TestNoopSpanManager verifies the disabled tracer is inert.
func TestNoopSpanManager(t *testing.T) {
	var sm observability.SpanManager = observability.NoopSpanManager{}
	ctx := context.Background()

	spanCtx, span := sm.StartPublishSpan(ctx, "CREATED", "m-1")
	assert.Equal(t, ctx, spanCtx)
	sm.EndSpanWithError(span, stderrors.New("ignored"))

	spanCtx, span = sm.StartConsumeSpan(ctx, "m-1", 2)
	assert.Equal(t, ctx, spanCtx)
	sm.EndSpanWithError(span, nil)

	sm.AddSpanEvent(ctx, "noop")
}

// TestSpanManager verifies span lifecycle against the default provider.
func TestSpanManager(t *testing.T) {
	sm := observability.NewSpanManager()
	ctx := context.Background()

	spanCtx, span := sm.StartPublishSpan(ctx, "CREATED", "m-1")
	require.NotNil(t, span)
	sm.AddSpanEvent(spanCtx, "fan-out")
	sm.EndSpanWithError(span, nil)

	_, span = sm.StartConsumeSpan(ctx, "m-1", 3)
	sm.EndSpanWithError(span, stderrors.New("handler failed"))

	// Nil span must not panic.
	sm.EndSpanWithError(nil, nil)
}
