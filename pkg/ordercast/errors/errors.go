// Package errors defines the error taxonomy for the event pipeline
// and the backoff schedules used when redelivering failed messages.
//
// The taxonomy follows the propagation policy of the pipeline:
//   - Validation: rejected at publish, never stored or queued
//   - Storage: surfaced to the caller of the append, not retried here
//   - Delivery: logged per subscriber, never aborts the fan-out
//   - Consumer: drives the queue's retry state machine
//   - DeadLetter: terminal, observable via the dead-letter channel
package errors

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or unknown domain event.
// Events failing validation are rejected before they reach any
// subscriber or store.
type ValidationError struct {
	// Field is the offending field, empty when the whole event is bad.
	Field string

	// Reason describes what is wrong.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid event: %s", e.Reason)
}

// NewValidation creates a ValidationError for a field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// StorageError wraps a failure of the underlying event store.
// The store surfaces these unchanged; retry responsibility belongs to
// the caller or to the queue for queued subscribers.
type StorageError struct {
	// Op names the failed operation ("append", "query", "open").
	Op string

	// Err is the underlying driver error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("event store %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a failed handoff to a single subscriber.
// One subscriber's failure never blocks delivery to the others.
type DeliveryError struct {
	// Subscriber is the subscription name.
	Subscriber string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %q: %v", e.Subscriber, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// ConsumerFailure reports a failed or timed-out side-effect invocation.
// It advances the queue's retry state machine for the message.
type ConsumerFailure struct {
	// MessageID identifies the queued message.
	MessageID string

	// TimedOut is true when the invocation exceeded its budget.
	TimedOut bool

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ConsumerFailure) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("consume %s: timed out: %v", e.MessageID, e.Err)
	}
	return fmt.Sprintf("consume %s: %v", e.MessageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConsumerFailure) Unwrap() error {
	return e.Err
}

// DeadLetterError marks a message that exceeded the retry ceiling and
// was moved to the dead-letter channel. Terminal.
type DeadLetterError struct {
	// MessageID identifies the dead-lettered message.
	MessageID string

	// Attempts is the total number of failed delivery attempts.
	Attempts int
}

// Error implements the error interface.
func (e *DeadLetterError) Error() string {
	return fmt.Sprintf("message %s dead-lettered after %d attempts", e.MessageID, e.Attempts)
}
