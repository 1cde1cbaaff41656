package errors

import (
	"context"
	"errors"
)

// Category represents how a failure should be handled by the queue.
type Category int

const (
	// CategoryTransient indicates redelivery will likely help.
	// Examples: timeouts, store unavailable, network issues.
	CategoryTransient Category = iota

	// CategoryPermanent indicates redelivery won't help but the
	// message itself may still be fine (handler bug, bad config).
	CategoryPermanent

	// CategoryValidation indicates the event itself is malformed.
	// Never stored, never queued, never retried.
	CategoryValidation
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Categorize determines how a pipeline failure should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryValidation
	}

	var consumeErr *ConsumerFailure
	if errors.As(err, &consumeErr) {
		if consumeErr.TimedOut {
			return CategoryTransient
		}
		return Categorize(consumeErr.Err)
	}

	var storeErr *StorageError
	if errors.As(err, &storeErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}

	// Unknown consumer errors stay retryable: the queue's receive
	// ceiling bounds the damage, and dead-lettering is observable.
	return CategoryTransient
}

// IsRetryable reports whether the failure should be redelivered.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
