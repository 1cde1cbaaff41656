package eventstore

import (
	"context"
	stderrors "errors"
)

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = stderrors.New("event store is closed")

// Store is the keyed, append-only event log.
//
// Append is a single unconditional put: duplicate publishes produce
// duplicate records, an accepted non-goal. Failures surface the
// storage layer's error unchanged; the store never retries
// internally.
type Store interface {
	// Append persists one record. The record is visible to
	// subsequent same-partition queries immediately.
	Append(ctx context.Context, rec Record) error

	// QueryByPartition returns all live records of one partition,
	// ascending by sort key. Expired records are excluded.
	QueryByPartition(ctx context.Context, pk string) ([]Record, error)

	// Close releases the store's resources.
	Close() error
}
