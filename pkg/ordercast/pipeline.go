package ordercast

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/ordercast/ordercast/pkg/ordercast/consumer"
	"github.com/ordercast/ordercast/pkg/ordercast/event"
	"github.com/ordercast/ordercast/pkg/ordercast/eventstore"
	"github.com/ordercast/ordercast/pkg/ordercast/observability"
	"github.com/ordercast/ordercast/pkg/ordercast/queue"
	"github.com/ordercast/ordercast/pkg/ordercast/topic"
)

// TopicName is the single topic all events flow through.
const TopicName = "order-events"

// Subscriber names as they appear in delivery reports and logs.
const (
	SubscriberEventLog      = "event-log"
	SubscriberBilling       = "billing"
	SubscriberNotifications = "notifications"
)

// ErrPipelineClosed is returned when publishing to a closed pipeline.
var ErrPipelineClosed = stderrors.New("pipeline is closed")

// Pipeline wires the topic, event log, durable queue, and consumers
// into one unit. Create with New, start consumers with Start, and
// Close when done. The pipeline owns every backend it was given and
// closes them all.
type Pipeline struct {
	cfg   pipelineConfig
	topic *topic.Topic
	store eventstore.Store
	queue queue.Queue

	billingQueue queue.Queue

	appender *eventstore.Appender

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New assembles a pipeline. Backends left unset default to in-memory
// implementations.
func New(opts ...Option) (*Pipeline, error) {
	cfg := defaultPipelineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.store == nil {
		ms := eventstore.NewMemoryStore()
		ms.SetClock(cfg.now)
		cfg.store = ms
	}
	if cfg.queue == nil {
		mq := queue.NewMemoryQueue(queue.Config{
			MaxReceiveCount:   cfg.maxReceiveCount,
			VisibilityTimeout: cfg.visibilityTimeout,
			Redelivery:        cfg.redelivery,
		})
		mq.SetClock(cfg.now)
		cfg.queue = mq
	}
	if cfg.emailSender == nil {
		cfg.emailSender = &consumer.LogSender{Logger: cfg.logger}
	}
	if cfg.billing == nil {
		cfg.billing = &consumer.LogBilling{Logger: cfg.logger}
	}

	p := &Pipeline{
		cfg:          cfg,
		store:        cfg.store,
		queue:        cfg.queue,
		billingQueue: cfg.billingQueue,
	}

	codec := eventstore.Codec{Retention: cfg.retention}
	p.appender = eventstore.NewAppender(codec, p.store)
	p.appender.SetClock(cfg.now)
	p.appender.Observe(func(rec eventstore.Record, err error) {
		p.cfg.metrics.RecordAppend(context.Background(), rec.EventType, err)
		if err == nil {
			observability.LogAppend(p.cfg.logger, rec.PK, rec.SK)
		}
	})

	p.observeDeadLetters(p.queue)
	if p.billingQueue != nil {
		p.observeDeadLetters(p.billingQueue)
	}

	p.topic = topic.New(TopicName, topic.Config{
		BufferSize: cfg.bufferSize,
		OnError: func(subscriber string, env event.Envelope, err error) {
			observability.LogDeliveryError(cfg.logger, subscriber, env.MessageID, err)
		},
	})

	p.topic.Subscribe(SubscriberEventLog, p.appender)

	billingHandler := consumer.NewBillingHandler(cfg.billing)
	if p.billingQueue != nil {
		p.topic.Subscribe(SubscriberBilling, p.enqueueHandler(p.billingQueue),
			topic.WithFilter(string(event.OrderCreated)))
	} else {
		p.topic.Subscribe(SubscriberBilling, billingHandler,
			topic.WithFilter(string(event.OrderCreated)))
	}

	p.topic.Subscribe(SubscriberNotifications, p.enqueueHandler(p.queue))

	return p, nil
}

// observeDeadLetters routes a backend's quarantine events into the
// pipeline's logs and metrics. Backends without the hook are left as
// configured.
func (p *Pipeline) observeDeadLetters(q queue.Queue) {
	hook, ok := q.(interface{ SetOnDeadLetter(func(*queue.DeadLetter)) })
	if !ok {
		return
	}
	hook.SetOnDeadLetter(func(dl *queue.DeadLetter) {
		observability.LogDeadLetter(p.cfg.logger, dl.ID, dl.Attempts, dl.LastError)
		p.cfg.metrics.RecordDeadLetter(context.Background(), dl.Envelope.EventType, dl.Attempts)
	})
}

// enqueueHandler bridges a topic subscription into a durable queue.
func (p *Pipeline) enqueueHandler(q queue.Queue) topic.Handler {
	return topic.HandlerFunc(func(ctx context.Context, env event.Envelope) error {
		_, err := q.Enqueue(ctx, env)
		return err
	})
}

// Start launches the queue consumers. Call once; Close stops them.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.closed {
		return
	}
	p.started = true

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.runConsumer(runCtx, p.queue, consumer.NewNotifier(p.cfg.emailSender))
	if p.billingQueue != nil {
		p.runConsumer(runCtx, p.billingQueue, consumer.NewBillingHandler(p.cfg.billing))
	}
}

// runConsumer spawns one consumer goroutine over q.
func (p *Pipeline) runConsumer(ctx context.Context, q queue.Queue, h consumer.Handler) {
	c := consumer.New(q, h, consumer.Config{
		HandleTimeout: p.cfg.consumerTimeout,
		Logger:        p.cfg.logger,
		Spans:         p.cfg.spans,
		OnResult: func(msg *queue.Message, duration time.Duration, err error) {
			p.cfg.metrics.RecordConsume(ctx, msg.Envelope.EventType, duration, err)
		},
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		c.Run(ctx)
	}()
}

// PublishOrderEvent validates evt, wraps it, and fans it out. Returns
// the assigned message ID. A validation failure publishes nothing.
func (p *Pipeline) PublishOrderEvent(ctx context.Context, t event.OrderEventType, evt *event.OrderEvent, opts ...event.EnvelopeOption) (string, error) {
	env, err := event.NewOrderEnvelope(t, evt, opts...)
	if err != nil {
		return "", err
	}
	return p.publish(ctx, env)
}

// PublishProductEvent validates evt, wraps it, and fans it out.
func (p *Pipeline) PublishProductEvent(ctx context.Context, evt *event.ProductEvent, opts ...event.EnvelopeOption) (string, error) {
	env, err := event.NewProductEnvelope(evt, opts...)
	if err != nil {
		return "", err
	}
	return p.publish(ctx, env)
}

// Publish fans out a pre-built envelope. Most callers want
// PublishOrderEvent or PublishProductEvent instead.
func (p *Pipeline) Publish(ctx context.Context, env event.Envelope) (string, error) {
	return p.publish(ctx, env)
}

func (p *Pipeline) publish(ctx context.Context, env event.Envelope) (string, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrPipelineClosed
	}
	p.mu.Unlock()

	ctx, span := p.cfg.spans.StartPublishSpan(ctx, env.EventType, env.MessageID)

	report, err := p.topic.Publish(ctx, env)
	p.cfg.spans.EndSpanWithError(span, err)
	if err != nil {
		return "", err
	}

	p.cfg.metrics.RecordPublish(ctx, env.EventType, report.Accepted())
	observability.LogPublish(p.cfg.logger, env.MessageID, env.EventType, report.Accepted())

	return env.MessageID, nil
}

// OrderHistory returns the unexpired event-log records for one order,
// oldest first.
func (p *Pipeline) OrderHistory(ctx context.Context, orderID string) ([]eventstore.Record, error) {
	return p.store.QueryByPartition(ctx, eventstore.OrderPartition(orderID))
}

// ProductHistory returns the unexpired event-log records for one
// product, oldest first.
func (p *Pipeline) ProductHistory(ctx context.Context, productCode string) ([]eventstore.Record, error) {
	return p.store.QueryByPartition(ctx, eventstore.ProductPartition(productCode))
}

// DeadLetters lists quarantined notification messages, oldest first.
// Fails if the queue backend has no dead-letter surface.
func (p *Pipeline) DeadLetters(ctx context.Context, limit int) ([]*queue.DeadLetter, error) {
	dlq, ok := p.queue.(queue.DeadLetterQueue)
	if !ok {
		return nil, queue.ErrNoDeadLetter
	}
	return dlq.DeadLetters(ctx, limit)
}

// Redrive moves one dead letter back into the notification queue.
func (p *Pipeline) Redrive(ctx context.Context, id string) error {
	dlq, ok := p.queue.(queue.DeadLetterQueue)
	if !ok {
		return queue.ErrNoDeadLetter
	}
	return dlq.Redrive(ctx, id)
}

// Queue exposes the notification queue, for operational tooling.
func (p *Pipeline) Queue() queue.Queue {
	return p.queue
}

// Store exposes the event log, for operational tooling.
func (p *Pipeline) Store() eventstore.Store {
	return p.store
}

// Close stops consumers and closes the topic, queues, and store.
// Idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancel := p.cancel
	p.mu.Unlock()

	p.topic.Close()

	var errs []error
	if err := p.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	if p.billingQueue != nil {
		if err := p.billingQueue.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	if err := p.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}
