// Package consumer drains the durable queue: each received message is
// handled under a deadline, then acked or nacked. A nack past the
// queue's receive ceiling dead-letters the message; the consumer never
// decides quarantine itself.
package consumer

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/event"
	"github.com/ordercast/ordercast/pkg/ordercast/observability"
	"github.com/ordercast/ordercast/pkg/ordercast/queue"
)

// DefaultHandleTimeout bounds a single message handling attempt.
const DefaultHandleTimeout = 10 * time.Second

// Handler processes one received message.
type Handler interface {
	Handle(ctx context.Context, env event.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope) error {
	return f(ctx, env)
}

// Config configures a Consumer.
type Config struct {
	// HandleTimeout bounds each handling attempt. A handler that runs
	// past it is treated as failed and the message is nacked.
	// Default: DefaultHandleTimeout
	HandleTimeout time.Duration

	// Logger receives per-message outcomes. Nil disables logging.
	Logger *slog.Logger

	// Spans, when set, opens a consume span per handling attempt.
	Spans observability.SpanManager

	// OnResult, when set, observes every ack/nack decision with the
	// handling duration. Used by the pipeline's metrics layer.
	OnResult func(msg *queue.Message, duration time.Duration, err error)
}

// Consumer pulls messages from a queue and dispatches them to a
// handler with at-least-once semantics.
type Consumer struct {
	q       queue.Queue
	handler Handler
	cfg     Config
}

// New creates a consumer over q. The consumer does not own the queue;
// closing the queue stops Run.
func New(q queue.Queue, handler Handler, cfg Config) *Consumer {
	if cfg.HandleTimeout <= 0 {
		cfg.HandleTimeout = DefaultHandleTimeout
	}
	return &Consumer{q: q, handler: handler, cfg: cfg}
}

// Run drains the queue until ctx is done or the queue closes. Safe to
// call from multiple goroutines for competing consumers.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.q.Receive(ctx)
		if err != nil {
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		c.process(ctx, msg)
	}
}

// process handles one message and resolves it.
func (c *Consumer) process(ctx context.Context, msg *queue.Message) {
	start := time.Now()

	spanCtx := ctx
	var span trace.Span
	if c.cfg.Spans != nil {
		spanCtx, span = c.cfg.Spans.StartConsumeSpan(ctx, msg.ID, msg.ReceiveCount)
	}

	handleCtx, cancel := context.WithTimeout(spanCtx, c.cfg.HandleTimeout)
	err := c.handler.Handle(handleCtx, msg.Envelope)
	if err == nil && handleCtx.Err() != nil {
		err = handleCtx.Err()
	}
	cancel()

	duration := time.Since(start)
	if c.cfg.Spans != nil {
		c.cfg.Spans.EndSpanWithError(span, err)
	}
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(msg, duration, err)
	}
	observability.LogConsume(c.cfg.Logger, msg.ID, msg.ReceiveCount, float64(duration.Milliseconds()), err)

	if err == nil {
		if ackErr := c.q.Ack(ctx, msg.ID); ackErr != nil {
			c.log(slog.LevelWarn, "ack failed", msg, ackErr)
		}
		return
	}

	if ctx.Err() != nil && stderrors.Is(err, context.Canceled) {
		// Shutdown interrupted the handler, not a verdict on the
		// message. Abandon the lease; the visibility timeout
		// redelivers it.
		return
	}

	failure := &errors.ConsumerFailure{
		MessageID: msg.ID,
		TimedOut:  stderrors.Is(err, context.DeadlineExceeded),
		Err:       err,
	}

	if nackErr := c.q.Nack(ctx, msg.ID, failure); nackErr != nil {
		c.log(slog.LevelError, "nack failed", msg, nackErr)
	}
}

func (c *Consumer) log(level slog.Level, text string, msg *queue.Message, err error) {
	if c.cfg.Logger == nil {
		return
	}
	c.cfg.Logger.Log(context.Background(), level, text,
		"messageId", msg.ID,
		"eventType", msg.Envelope.EventType,
		"receiveCount", msg.ReceiveCount,
		"error", err,
	)
}
