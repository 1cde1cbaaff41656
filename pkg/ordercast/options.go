package ordercast

import (
	"log/slog"
	"time"

	"github.com/ordercast/ordercast/pkg/ordercast/config"
	"github.com/ordercast/ordercast/pkg/ordercast/consumer"
	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/eventstore"
	"github.com/ordercast/ordercast/pkg/ordercast/observability"
	"github.com/ordercast/ordercast/pkg/ordercast/queue"
)

// pipelineConfig holds the resolved pipeline wiring.
type pipelineConfig struct {
	retention         time.Duration
	maxReceiveCount   int
	visibilityTimeout time.Duration
	consumerTimeout   time.Duration
	bufferSize        int
	redelivery        errors.Schedule

	store        eventstore.Store
	queue        queue.Queue
	billingQueue queue.Queue

	emailSender consumer.EmailSender
	billing     consumer.BillingProcessor

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	now func() time.Time
}

// defaultPipelineConfig returns the shipped defaults. The store and
// queue are filled in by New when left unset.
func defaultPipelineConfig() pipelineConfig {
	return pipelineConfig{
		retention:         eventstore.DefaultRetention,
		maxReceiveCount:   queue.DefaultConfig.MaxReceiveCount,
		visibilityTimeout: queue.DefaultConfig.VisibilityTimeout,
		consumerTimeout:   consumer.DefaultHandleTimeout,
		bufferSize:        256,
		metrics:           observability.NoopMetrics{},
		spans:             observability.NoopSpanManager{},
		now:               time.Now,
	}
}

// Option configures a Pipeline.
type Option func(*pipelineConfig)

// WithStore sets the event-log backend.
// Default: in-memory store.
func WithStore(s eventstore.Store) Option {
	return func(c *pipelineConfig) {
		c.store = s
	}
}

// WithQueue sets the notification queue backend.
// Default: in-memory queue.
func WithQueue(q queue.Queue) Option {
	return func(c *pipelineConfig) {
		c.queue = q
	}
}

// WithBillingQueue routes billing through its own durable queue with
// the same retry discipline as notifications, instead of handling
// billing inline during fan-out.
func WithBillingQueue(q queue.Queue) Option {
	return func(c *pipelineConfig) {
		c.billingQueue = q
	}
}

// WithRetention sets how long event-log records stay queryable.
// Default: 5 minutes.
func WithRetention(d time.Duration) Option {
	return func(c *pipelineConfig) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithMaxReceiveCount sets the queue retry ceiling.
// Default: 3.
func WithMaxReceiveCount(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.maxReceiveCount = n
		}
	}
}

// WithVisibilityTimeout sets how long a received message stays hidden
// from other consumers.
// Default: 30 seconds.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(c *pipelineConfig) {
		if d > 0 {
			c.visibilityTimeout = d
		}
	}
}

// WithRedelivery sets the delay schedule for nacked messages.
// Default: immediate redelivery.
func WithRedelivery(s errors.Schedule) Option {
	return func(c *pipelineConfig) {
		c.redelivery = s
	}
}

// WithConsumerTimeout bounds each message handling attempt.
// Default: 10 seconds.
func WithConsumerTimeout(d time.Duration) Option {
	return func(c *pipelineConfig) {
		if d > 0 {
			c.consumerTimeout = d
		}
	}
}

// WithBufferSize sets the per-subscription channel buffer.
// Default: 256.
func WithBufferSize(n int) Option {
	return func(c *pipelineConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithEmailSender sets the notification sender.
// Default: a log-only sender.
func WithEmailSender(s consumer.EmailSender) Option {
	return func(c *pipelineConfig) {
		c.emailSender = s
	}
}

// WithBillingProcessor sets the billing processor invoked for
// order-creation events.
// Default: a log-only processor.
func WithBillingProcessor(p consumer.BillingProcessor) Option {
	return func(c *pipelineConfig) {
		c.billing = p
	}
}

// WithLogger sets the pipeline logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *pipelineConfig) {
		c.logger = l
	}
}

// WithMetrics sets the metrics recorder.
// Default: no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *pipelineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing sets the span manager.
// Default: no-op.
func WithTracing(s observability.SpanManager) Option {
	return func(c *pipelineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithClock overrides the pipeline's clock. Test hook; also applied
// to backends created by the pipeline itself.
func WithClock(now func() time.Time) Option {
	return func(c *pipelineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithConfig applies tunables loaded from a config file. Explicit
// options take precedence when applied after this one.
func WithConfig(cfg config.Config) Option {
	return func(c *pipelineConfig) {
		s := config.Pipeline(cfg)
		c.retention = s.Retention
		c.maxReceiveCount = s.MaxReceiveCount
		c.visibilityTimeout = s.VisibilityTimeout
		c.consumerTimeout = s.ConsumerTimeout
		c.bufferSize = s.BufferSize
	}
}
