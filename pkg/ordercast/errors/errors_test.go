package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
)

// TestValidationError verifies message formatting and detection.
func TestValidationError(t *testing.T) {
	err := errors.NewValidation("email", "must not be empty")
	assert.Equal(t, "invalid event: email: must not be empty", err.Error())
	assert.True(t, errors.IsValidation(err))

	wrapped := fmt.Errorf("publish: %w", err)
	assert.True(t, errors.IsValidation(wrapped))

	whole := &errors.ValidationError{Reason: "unknown event type"}
	assert.Equal(t, "invalid event: unknown event type", whole.Error())

	assert.False(t, errors.IsValidation(stderrors.New("other")))
}

// TestUnwrapChain verifies the wrapping errors expose their cause.
func TestUnwrapChain(t *testing.T) {
	cause := stderrors.New("disk full")

	storage := &errors.StorageError{Op: "append", Err: cause}
	assert.ErrorIs(t, storage, cause)
	assert.Contains(t, storage.Error(), "append")

	delivery := &errors.DeliveryError{Subscriber: "billing", Err: cause}
	assert.ErrorIs(t, delivery, cause)
	assert.Contains(t, delivery.Error(), `"billing"`)

	consume := &errors.ConsumerFailure{MessageID: "m1", Err: cause}
	assert.ErrorIs(t, consume, cause)
}

// TestConsumerFailureTimeout verifies the timeout flag shows in the message.
func TestConsumerFailureTimeout(t *testing.T) {
	err := &errors.ConsumerFailure{
		MessageID: "m1",
		TimedOut:  true,
		Err:       context.DeadlineExceeded,
	}
	assert.Contains(t, err.Error(), "timed out")
}

// TestDeadLetterError verifies the terminal error message.
func TestDeadLetterError(t *testing.T) {
	err := &errors.DeadLetterError{MessageID: "m1", Attempts: 4}
	assert.Equal(t, "message m1 dead-lettered after 4 attempts", err.Error())
}

// TestCategorize verifies the failure taxonomy drives retry decisions.
func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want errors.Category
	}{
		{"validation", errors.NewValidation("f", "bad"), errors.CategoryValidation},
		{"wrapped validation", fmt.Errorf("x: %w", errors.NewValidation("f", "bad")), errors.CategoryValidation},
		{"storage", &errors.StorageError{Op: "append", Err: stderrors.New("locked")}, errors.CategoryTransient},
		{"timeout failure", &errors.ConsumerFailure{TimedOut: true, Err: context.DeadlineExceeded}, errors.CategoryTransient},
		{"failure wrapping validation", &errors.ConsumerFailure{Err: errors.NewValidation("f", "bad")}, errors.CategoryValidation},
		{"deadline", context.DeadlineExceeded, errors.CategoryTransient},
		{"canceled", context.Canceled, errors.CategoryPermanent},
		{"unknown", stderrors.New("boom"), errors.CategoryTransient},
		{"nil", nil, errors.CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Categorize(tt.err))
		})
	}
}

// TestIsRetryable verifies only transient failures retry.
func TestIsRetryable(t *testing.T) {
	assert.True(t, errors.IsRetryable(context.DeadlineExceeded))
	assert.False(t, errors.IsRetryable(errors.NewValidation("f", "bad")))
	assert.False(t, errors.IsRetryable(context.Canceled))
}

// TestCategoryString covers the names used in logs.
func TestCategoryString(t *testing.T) {
	assert.Equal(t, "transient", errors.CategoryTransient.String())
	assert.Equal(t, "permanent", errors.CategoryPermanent.String())
	assert.Equal(t, "validation", errors.CategoryValidation.String())
	assert.Equal(t, "unknown", errors.Category(42).String())
}

// TestScheduleDelay verifies fixed and exponential delays.
func TestScheduleDelay(t *testing.T) {
	fixed := errors.Fixed(10 * time.Second)
	assert.Equal(t, 10*time.Second, fixed.Delay(1))
	assert.Equal(t, 10*time.Second, fixed.Delay(5))

	exp := errors.Schedule{
		Initial: time.Second,
		Max:     10 * time.Second,
		Factor:  2.0,
	}
	assert.Equal(t, time.Second, exp.Delay(1))
	assert.Equal(t, 2*time.Second, exp.Delay(2))
	assert.Equal(t, 4*time.Second, exp.Delay(3))
	assert.Equal(t, 10*time.Second, exp.Delay(10)) // capped

	// Attempt below 1 clamps to the initial delay.
	assert.Equal(t, time.Second, exp.Delay(0))
}

// TestScheduleZeroValue verifies the zero schedule redelivers immediately.
func TestScheduleZeroValue(t *testing.T) {
	var s errors.Schedule
	assert.Equal(t, time.Duration(0), s.Delay(1))
}

// TestScheduleJitter verifies jittered delays stay within bounds.
func TestScheduleJitter(t *testing.T) {
	s := errors.Schedule{
		Initial: 10 * time.Second,
		Max:     10 * time.Second,
		Factor:  1.0,
		Jitter:  0.2,
	}
	for i := 0; i < 50; i++ {
		d := s.Delay(1)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}
