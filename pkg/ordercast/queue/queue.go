// Package queue provides the durable, at-least-once buffer between
// the topic and its reliable subscribers, with SQS-style semantics:
// a received message is hidden from other consumers for a visibility
// window, a failed delivery re-enqueues it with an incremented
// receive count, and a message that exceeds the receive ceiling moves
// to the dead-letter channel with its payload untouched.
//
// Three backends are provided: in-memory (tests, single process),
// SQLite (single-process durable), and Redis (multi-process
// competing consumers).
package queue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

var (
	// ErrClosed is returned when operating on a closed queue.
	ErrClosed = stderrors.New("queue is closed")

	// ErrUnknownMessage is returned when acking or nacking a message
	// that is not in flight (already acked, dead-lettered, or
	// reclaimed after its visibility window expired).
	ErrUnknownMessage = stderrors.New("message is not in flight")

	// ErrNoDeadLetter is returned when redriving an unknown message.
	ErrNoDeadLetter = stderrors.New("no such dead letter")
)

// Message wraps one published envelope while it sits in the queue.
type Message struct {
	// ID identifies the message within the queue. Equal to the
	// envelope's MessageID.
	ID string

	// Envelope is the published event, verbatim.
	Envelope event.Envelope

	// ReceiveCount is how many times the message has been delivered,
	// including the current delivery.
	ReceiveCount int

	// EnqueuedAt is when the message first entered the queue.
	EnqueuedAt time.Time
}

// DeadLetter is a message that exceeded the retry ceiling. The
// payload is copied verbatim from the original message.
type DeadLetter struct {
	Message

	// Attempts is the total number of failed delivery attempts.
	Attempts int

	// LastError describes the final failure.
	LastError string

	// FirstFailedAt is when the first delivery attempt failed.
	FirstFailedAt time.Time

	// DeadLetteredAt is when the message was moved here.
	DeadLetteredAt time.Time
}

// Queue is the at-least-once delivery buffer.
//
// Receive blocks until a message is available or ctx is done; while a
// message is in flight it is invisible to other consumers until its
// visibility window lapses. Every delivered message must be resolved
// with Ack or Nack.
type Queue interface {
	// Enqueue adds an envelope and returns the message ID.
	Enqueue(ctx context.Context, env event.Envelope) (string, error)

	// Receive returns the next visible message, blocking until one
	// is available. The receive count is already incremented.
	Receive(ctx context.Context) (*Message, error)

	// Ack removes a successfully consumed message. Terminal.
	Ack(ctx context.Context, id string) error

	// Nack reports a failed consumption. The message is re-enqueued
	// with its attempt recorded, or dead-lettered once the receive
	// ceiling is exceeded. A cause that is not retryable (see
	// errors.IsRetryable) dead-letters immediately: redelivering a
	// malformed message burns the ceiling for nothing.
	Nack(ctx context.Context, id string, cause error) error

	// Close shuts down the queue.
	Close() error
}

// DeadLetterQueue is the operational surface over quarantined
// messages. Redrive is a manual action; nothing replays
// automatically.
type DeadLetterQueue interface {
	// DeadLetters lists quarantined messages, oldest first.
	DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error)

	// DeadLetterCount returns the number of quarantined messages.
	DeadLetterCount(ctx context.Context) (int, error)

	// Redrive moves a dead letter back to the primary queue with a
	// reset receive count.
	Redrive(ctx context.Context, id string) error
}

// Config configures queue behavior.
type Config struct {
	// MaxReceiveCount is the retry ceiling: a message whose failed
	// receive count exceeds it is dead-lettered.
	// Default: 3
	MaxReceiveCount int

	// VisibilityTimeout hides an in-flight message from other
	// consumers. A consumer that neither acks nor nacks within the
	// window loses the message to redelivery.
	// Default: 30 seconds
	VisibilityTimeout time.Duration

	// Redelivery computes the delay before a nacked message becomes
	// visible again. Zero value redelivers immediately; use
	// errors.ExponentialBackoff to space attempts out.
	Redelivery errors.Schedule

	// OnDeadLetter is called when a message is quarantined.
	OnDeadLetter func(*DeadLetter)
}

// DefaultConfig provides the pipeline's shipped redrive policy.
var DefaultConfig = Config{
	MaxReceiveCount:   3,
	VisibilityTimeout: errors.FixedVisibility.Initial,
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = DefaultConfig.MaxReceiveCount
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = DefaultConfig.VisibilityTimeout
	}
	return c
}

// retryable reports whether a nack cause warrants redelivery. A nil
// cause carries no verdict and stays retryable.
func retryable(cause error) bool {
	return cause == nil || errors.IsRetryable(cause)
}

// chainDeadLetter composes quarantine callbacks; either side may be nil.
func chainDeadLetter(prev, next func(*DeadLetter)) func(*DeadLetter) {
	if prev == nil {
		return next
	}
	if next == nil {
		return prev
	}
	return func(dl *DeadLetter) {
		prev(dl)
		next(dl)
	}
}
