// Package topic implements the fan-out stage of the pipeline: one
// published envelope is delivered to every subscription whose filter
// matches, each over its own buffered channel and goroutine, so one
// slow or failing subscriber never blocks the others.
package topic

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// Handler consumes envelopes delivered to a subscription.
type Handler interface {
	Handle(ctx context.Context, env event.Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, env event.Envelope) error {
	return f(ctx, env)
}

// Config configures topic behavior.
type Config struct {
	// BufferSize is the channel buffer size per subscription.
	// Default: 256
	BufferSize int

	// OnError is called when a subscriber's handler fails. The
	// error is a DeliveryError; it never propagates to the
	// publisher.
	OnError func(subscriber string, env event.Envelope, err error)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	BufferSize: 256,
}

// Topic fans out published envelopes to its subscriptions.
type Topic struct {
	name   string
	config Config

	mu   sync.RWMutex
	subs []*Subscription

	closed atomic.Bool
}

// New creates a topic.
func New(name string, config Config) *Topic {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig.BufferSize
	}
	return &Topic{
		name:   name,
		config: config,
	}
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Subscription is one registered subscriber of a topic.
type Subscription struct {
	name    string
	allow   map[string]struct{} // nil = receive everything
	handler Handler
	events  chan event.Envelope
	done    chan struct{}
	topic   *Topic
}

// Name returns the subscription name.
func (s *Subscription) Name() string {
	return s.name
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithFilter restricts the subscription to the given event types.
// The allow-list is fixed at wiring time; absence means "receive
// everything".
func WithFilter(eventTypes ...string) SubscribeOption {
	return func(s *Subscription) {
		s.allow = make(map[string]struct{}, len(eventTypes))
		for _, et := range eventTypes {
			s.allow[et] = struct{}{}
		}
	}
}

// Subscribe registers a named subscriber. Returns nil if the topic is
// closed. Delivery order per subscription matches publish order.
func (t *Topic) Subscribe(name string, handler Handler, opts ...SubscribeOption) *Subscription {
	if t.closed.Load() {
		return nil
	}

	sub := &Subscription{
		name:    name,
		handler: handler,
		events:  make(chan event.Envelope, t.config.BufferSize),
		done:    make(chan struct{}),
		topic:   t,
	}
	for _, opt := range opts {
		opt(sub)
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	go sub.process()

	return sub
}

// matches reports whether the subscription's filter accepts the type.
func (s *Subscription) matches(eventType string) bool {
	if s.allow == nil {
		return true
	}
	_, ok := s.allow[eventType]
	return ok
}

// Delivery records the handoff outcome for one subscriber.
type Delivery struct {
	Subscriber string
	Accepted   bool
	Err        error
}

// DeliveryReport records, per subscriber, whether the envelope was
// accepted for delivery. Diagnostic only; it never blocks the
// publisher, and handler outcomes are reported via Config.OnError.
type DeliveryReport struct {
	MessageID  string
	Deliveries []Delivery
}

// Accepted returns how many subscribers accepted the envelope.
func (r DeliveryReport) Accepted() int {
	n := 0
	for _, d := range r.Deliveries {
		if d.Accepted {
			n++
		}
	}
	return n
}

// Publish hands the envelope to every matching subscription. The
// handoff never blocks: a subscriber whose buffer is full at publish
// time misses this envelope, recorded in the report as a rejected
// delivery, and every other subscriber still gets its copy.
func (t *Topic) Publish(ctx context.Context, env event.Envelope) (DeliveryReport, error) {
	report := DeliveryReport{MessageID: env.MessageID}

	if t.closed.Load() {
		return report, &errors.DeliveryError{Subscriber: t.name, Err: ErrTopicClosed}
	}

	t.mu.RLock()
	subs := make([]*Subscription, len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, sub := range subs {
		if !sub.matches(env.EventType) {
			continue
		}

		if err := ctx.Err(); err != nil {
			report.Deliveries = append(report.Deliveries, Delivery{
				Subscriber: sub.name,
				Err:        &errors.DeliveryError{Subscriber: sub.name, Err: err},
			})
			continue
		}

		select {
		case sub.events <- env:
			report.Deliveries = append(report.Deliveries, Delivery{Subscriber: sub.name, Accepted: true})
		default:
			dropped := &errors.DeliveryError{Subscriber: sub.name, Err: ErrSubscriberBusy}
			report.Deliveries = append(report.Deliveries, Delivery{Subscriber: sub.name, Err: dropped})
			if t.config.OnError != nil {
				t.config.OnError(sub.name, env, dropped)
			}
		}
	}

	return report, nil
}

// Close shuts down the topic and all subscriptions.
func (t *Topic) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		close(sub.done)
	}
	return nil
}

// process handles envelopes for a subscription.
func (s *Subscription) process() {
	for {
		select {
		case env := <-s.events:
			if err := s.handler.Handle(context.Background(), env); err != nil {
				if s.topic.config.OnError != nil {
					s.topic.config.OnError(s.name, env, &errors.DeliveryError{Subscriber: s.name, Err: err})
				}
			}
		case <-s.done:
			return
		}
	}
}

// Unsubscribe removes the subscription from its topic.
func (s *Subscription) Unsubscribe() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()

	for i, sub := range s.topic.subs {
		if sub == s {
			s.topic.subs = append(s.topic.subs[:i], s.topic.subs[i+1:]...)
			close(s.done)
			return
		}
	}
}
