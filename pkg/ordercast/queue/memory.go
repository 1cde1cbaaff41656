package queue

import (
	"context"
	"sync"
	"time"

	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// MemoryQueue is an in-memory Queue + DeadLetterQueue.
// Suitable for testing and single-instance deployments.
type MemoryQueue struct {
	cfg Config

	mu       sync.Mutex
	ready    []*stored          // FIFO, eligible when visibleAt has passed
	inflight map[string]*stored // keyed by message ID
	dead     []*DeadLetter

	notify  chan struct{}
	closed  bool
	closeCh chan struct{}

	now func() time.Time
}

// stored is the queue's internal message state.
type stored struct {
	msg           Message
	visibleAt     time.Time // ready: eligibility; inflight: reclaim deadline
	firstFailedAt time.Time
	lastError     string
}

// NewMemoryQueue creates an in-memory queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	return &MemoryQueue{
		cfg:      cfg.withDefaults(),
		inflight: make(map[string]*stored),
		notify:   make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		now:      time.Now,
	}
}

// SetClock overrides the queue's clock. Test hook.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// SetOnDeadLetter adds a quarantine observer alongside any callback
// already configured.
func (q *MemoryQueue) SetOnDeadLetter(fn func(*DeadLetter)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg.OnDeadLetter = chainDeadLetter(q.cfg.OnDeadLetter, fn)
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, env event.Envelope) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	now := q.now()
	q.ready = append(q.ready, &stored{
		msg: Message{
			ID:         env.MessageID,
			Envelope:   env,
			EnqueuedAt: now,
		},
		visibleAt: now,
	})
	q.signal()
	return env.MessageID, nil
}

// signal wakes one blocked Receive. Must hold the lock.
func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Receive implements Queue. The returned message is hidden from other
// consumers until acked, nacked, or the visibility window lapses.
func (q *MemoryQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}

		q.reclaimExpired()

		if msg, ok := q.takeReady(); ok {
			q.mu.Unlock()
			return msg, nil
		}

		wait := q.nextWakeup()
		q.mu.Unlock()

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-q.closeCh:
			if timer != nil {
				timer.Stop()
			}
			return nil, ErrClosed
		case <-q.notify:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
		}
	}
}

// takeReady pops the oldest eligible message. Must hold the lock.
func (q *MemoryQueue) takeReady() (*Message, bool) {
	now := q.now()
	for i, st := range q.ready {
		if st.visibleAt.After(now) {
			continue
		}
		q.ready = append(q.ready[:i], q.ready[i+1:]...)

		st.msg.ReceiveCount++
		st.visibleAt = now.Add(q.cfg.VisibilityTimeout)
		q.inflight[st.msg.ID] = st

		msg := st.msg
		return &msg, true
	}
	return nil, false
}

// reclaimExpired returns in-flight messages whose visibility window
// lapsed without an ack or nack. A reclaimed message past the receive
// ceiling is dead-lettered instead. Must hold the lock.
func (q *MemoryQueue) reclaimExpired() {
	now := q.now()
	for id, st := range q.inflight {
		if st.visibleAt.After(now) {
			continue
		}
		delete(q.inflight, id)
		st.recordFailure(now, "visibility timeout expired")

		if st.msg.ReceiveCount > q.cfg.MaxReceiveCount {
			q.deadLetter(st, now)
			continue
		}
		st.visibleAt = now
		q.ready = append(q.ready, st)
	}
}

// nextWakeup returns how long Receive may sleep before something can
// become eligible. Zero means sleep until signalled. Must hold the lock.
func (q *MemoryQueue) nextWakeup() time.Duration {
	var next time.Time
	for _, st := range q.ready {
		if next.IsZero() || st.visibleAt.Before(next) {
			next = st.visibleAt
		}
	}
	for _, st := range q.inflight {
		if next.IsZero() || st.visibleAt.Before(next) {
			next = st.visibleAt
		}
	}
	if next.IsZero() {
		return 0
	}
	wait := time.Until(next)
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// Ack implements Queue.
func (q *MemoryQueue) Ack(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.inflight[id]; !ok {
		return ErrUnknownMessage
	}
	delete(q.inflight, id)
	return nil
}

// Nack implements Queue.
func (q *MemoryQueue) Nack(_ context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	st, ok := q.inflight[id]
	if !ok {
		return ErrUnknownMessage
	}
	delete(q.inflight, id)

	now := q.now()
	reason := "consumer failure"
	if cause != nil {
		reason = cause.Error()
	}
	st.recordFailure(now, reason)

	if st.msg.ReceiveCount > q.cfg.MaxReceiveCount || !retryable(cause) {
		q.deadLetter(st, now)
		return nil
	}

	st.visibleAt = now.Add(q.cfg.Redelivery.Delay(st.msg.ReceiveCount))
	q.ready = append(q.ready, st)
	q.signal()
	return nil
}

// recordFailure updates the stored failure tracking.
func (st *stored) recordFailure(now time.Time, reason string) {
	if st.firstFailedAt.IsZero() {
		st.firstFailedAt = now
	}
	st.lastError = reason
}

// deadLetter quarantines a message. Must hold the lock.
func (q *MemoryQueue) deadLetter(st *stored, now time.Time) {
	dl := &DeadLetter{
		Message:        st.msg,
		Attempts:       st.msg.ReceiveCount,
		LastError:      st.lastError,
		FirstFailedAt:  st.firstFailedAt,
		DeadLetteredAt: now,
	}
	q.dead = append(q.dead, dl)

	if q.cfg.OnDeadLetter != nil {
		// Callback without the lock's protection would race with
		// Close; keep it synchronous and document it as fast.
		q.cfg.OnDeadLetter(dl)
	}
}

// DeadLetters implements DeadLetterQueue.
func (q *MemoryQueue) DeadLetters(_ context.Context, limit int) ([]*DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]*DeadLetter, limit)
	copy(out, q.dead[:limit])
	return out, nil
}

// DeadLetterCount implements DeadLetterQueue.
func (q *MemoryQueue) DeadLetterCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead), nil
}

// Redrive implements DeadLetterQueue.
func (q *MemoryQueue) Redrive(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	for i, dl := range q.dead {
		if dl.ID != id {
			continue
		}
		q.dead = append(q.dead[:i], q.dead[i+1:]...)

		msg := dl.Message
		msg.ReceiveCount = 0
		q.ready = append(q.ready, &stored{msg: msg, visibleAt: q.now()})
		q.signal()
		return nil
	}
	return ErrNoDeadLetter
}

// Depth returns the number of ready plus in-flight messages.
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}

// Close implements Queue.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.closeCh)
	return nil
}

var (
	_ Queue           = (*MemoryQueue)(nil)
	_ DeadLetterQueue = (*MemoryQueue)(nil)
)
