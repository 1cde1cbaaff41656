package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. Suitable for testing and
// single-process deployments that can afford to lose the log on
// restart.
type MemoryStore struct {
	mu     sync.RWMutex
	parts  map[string][]Record
	closed bool

	// now is injectable for expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		parts: make(map[string][]Record),
		now:   time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.parts[rec.PK] = append(s.parts[rec.PK], rec)
	return nil
}

// QueryByPartition implements Store.
func (s *MemoryStore) QueryByPartition(_ context.Context, pk string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	cutoff := s.now().Unix()
	records := make([]Record, 0, len(s.parts[pk]))
	for _, rec := range s.parts[pk] {
		if rec.TTL > cutoff {
			records = append(records, rec)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SK < records[j].SK
	})
	return records, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
