package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// receivePollInterval bounds how long a blocked SQLite Receive waits
// between visibility scans.
const receivePollInterval = 50 * time.Millisecond

// SQLiteQueue is a durable Queue + DeadLetterQueue backed by SQLite.
// Messages survive process restarts; consumer state does not need to.
type SQLiteQueue struct {
	cfg Config

	db     *sql.DB
	mu     sync.Mutex
	closed bool

	now func() time.Time
}

// NewSQLiteQueue creates a SQLite-backed queue.
// The path should be a file path (e.g., "./queue.db") or ":memory:" for testing.
func NewSQLiteQueue(path string, cfg Config) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			envelope BLOB NOT NULL,
			receive_count INTEGER NOT NULL DEFAULT 0,
			in_flight INTEGER NOT NULL DEFAULT 0,
			enqueued_at INTEGER NOT NULL,
			visible_at INTEGER NOT NULL,
			first_failed_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create messages table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			envelope BLOB NOT NULL,
			attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL,
			enqueued_at INTEGER NOT NULL,
			first_failed_at INTEGER NOT NULL,
			dead_lettered_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create dead_letters table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_messages_visible
		ON messages(in_flight, visible_at)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteQueue{cfg: cfg.withDefaults(), db: db, now: time.Now}, nil
}

// SetClock overrides the queue's clock. Test hook.
func (q *SQLiteQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// SetOnDeadLetter adds a quarantine observer alongside any callback
// already configured.
func (q *SQLiteQueue) SetOnDeadLetter(fn func(*DeadLetter)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg.OnDeadLetter = chainDeadLetter(q.cfg.OnDeadLetter, fn)
}

// Enqueue implements Queue.
func (q *SQLiteQueue) Enqueue(ctx context.Context, env event.Envelope) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	millis := q.now().UnixMilli()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO messages (id, envelope, enqueued_at, visible_at)
		VALUES (?, ?, ?, ?)
	`, env.MessageID, payload, millis, millis)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return env.MessageID, nil
}

// Receive implements Queue. Polls the visibility index until a
// message is eligible or ctx is done.
func (q *SQLiteQueue) Receive(ctx context.Context) (*Message, error) {
	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()

	for {
		msg, err := q.tryReceive(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// tryReceive claims the oldest visible message, or returns nil when
// the queue has none due.
func (q *SQLiteQueue) tryReceive(ctx context.Context) (*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	now := q.now()
	if err := q.reclaimExpired(ctx, now); err != nil {
		return nil, err
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT id, envelope, receive_count, enqueued_at
		FROM messages
		WHERE in_flight = 0 AND visible_at <= ?
		ORDER BY enqueued_at
		LIMIT 1
	`, now.UnixMilli())

	var (
		id           string
		payload      []byte
		receiveCount int
		enqueuedAt   int64
	)
	if err := row.Scan(&id, &payload, &receiveCount, &enqueuedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("receive: %w", err)
	}

	deadline := now.Add(q.cfg.VisibilityTimeout).UnixMilli()
	if _, err := q.db.ExecContext(ctx, `
		UPDATE messages
		SET in_flight = 1, receive_count = receive_count + 1, visible_at = ?
		WHERE id = ?
	`, deadline, id); err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}

	var env event.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	return &Message{
		ID:           id,
		Envelope:     env,
		ReceiveCount: receiveCount + 1,
		EnqueuedAt:   time.UnixMilli(enqueuedAt),
	}, nil
}

// reclaimExpired makes lapsed in-flight messages visible again, or
// dead-letters those past the receive ceiling. Must hold the lock.
func (q *SQLiteQueue) reclaimExpired(ctx context.Context, now time.Time) error {
	millis := now.UnixMilli()

	// Dead-letter expired messages over the ceiling first.
	rows, err := q.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE in_flight = 1 AND visible_at <= ? AND receive_count > ?
	`, millis, q.cfg.MaxReceiveCount)
	if err != nil {
		return fmt.Errorf("reclaim scan: %w", err)
	}
	var over []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("reclaim scan: %w", err)
		}
		over = append(over, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reclaim scan: %w", err)
	}

	for _, id := range over {
		if err := q.moveToDeadLetters(ctx, id, "visibility timeout expired", now); err != nil {
			return err
		}
	}

	_, err = q.db.ExecContext(ctx, `
		UPDATE messages
		SET in_flight = 0,
		    visible_at = ?,
		    last_error = 'visibility timeout expired',
		    first_failed_at = CASE WHEN first_failed_at = 0 THEN ? ELSE first_failed_at END
		WHERE in_flight = 1 AND visible_at <= ?
	`, millis, millis, millis)
	if err != nil {
		return fmt.Errorf("reclaim: %w", err)
	}
	return nil
}

// Ack implements Queue.
func (q *SQLiteQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	res, err := q.db.ExecContext(ctx, `
		DELETE FROM messages WHERE id = ? AND in_flight = 1
	`, id)
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUnknownMessage
	}
	return nil
}

// Nack implements Queue.
func (q *SQLiteQueue) Nack(ctx context.Context, id string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT receive_count FROM messages WHERE id = ? AND in_flight = 1
	`, id)
	var receiveCount int
	if err := row.Scan(&receiveCount); err != nil {
		if err == sql.ErrNoRows {
			return ErrUnknownMessage
		}
		return fmt.Errorf("nack: %w", err)
	}

	now := q.now()
	reason := "consumer failure"
	if cause != nil {
		reason = cause.Error()
	}

	if receiveCount > q.cfg.MaxReceiveCount || !retryable(cause) {
		return q.moveToDeadLetters(ctx, id, reason, now)
	}

	visibleAt := now.Add(q.cfg.Redelivery.Delay(receiveCount)).UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		UPDATE messages
		SET in_flight = 0,
		    visible_at = ?,
		    last_error = ?,
		    first_failed_at = CASE WHEN first_failed_at = 0 THEN ? ELSE first_failed_at END
		WHERE id = ?
	`, visibleAt, reason, now.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	return nil
}

// moveToDeadLetters quarantines one message. Must hold the lock.
func (q *SQLiteQueue) moveToDeadLetters(ctx context.Context, id, reason string, now time.Time) error {
	row := q.db.QueryRowContext(ctx, `
		SELECT envelope, receive_count, enqueued_at, first_failed_at
		FROM messages WHERE id = ?
	`, id)

	var (
		payload       []byte
		receiveCount  int
		enqueuedAt    int64
		firstFailedAt int64
	)
	if err := row.Scan(&payload, &receiveCount, &enqueuedAt, &firstFailedAt); err != nil {
		return fmt.Errorf("dead-letter read: %w", err)
	}
	if firstFailedAt == 0 {
		firstFailedAt = now.UnixMilli()
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, envelope, attempts, last_error, enqueued_at, first_failed_at, dead_lettered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, payload, receiveCount, reason, enqueuedAt, firstFailedAt, now.UnixMilli()); err != nil {
		return fmt.Errorf("dead-letter insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("dead-letter delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dead-letter commit: %w", err)
	}

	if q.cfg.OnDeadLetter != nil {
		var env event.Envelope
		if err := json.Unmarshal(payload, &env); err == nil {
			q.cfg.OnDeadLetter(&DeadLetter{
				Message: Message{
					ID:           id,
					Envelope:     env,
					ReceiveCount: receiveCount,
					EnqueuedAt:   time.UnixMilli(enqueuedAt),
				},
				Attempts:       receiveCount,
				LastError:      reason,
				FirstFailedAt:  time.UnixMilli(firstFailedAt),
				DeadLetteredAt: now,
			})
		}
	}
	return nil
}

// DeadLetters implements DeadLetterQueue.
func (q *SQLiteQueue) DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, envelope, attempts, last_error, enqueued_at, first_failed_at, dead_lettered_at
		FROM dead_letters
		ORDER BY dead_lettered_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*DeadLetter
	for rows.Next() {
		var (
			dl            DeadLetter
			payload       []byte
			enqueuedAt    int64
			firstFailedAt int64
			deadAt        int64
		)
		if err := rows.Scan(&dl.ID, &payload, &dl.Attempts, &dl.LastError,
			&enqueuedAt, &firstFailedAt, &deadAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(payload, &dl.Envelope); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		dl.ReceiveCount = dl.Attempts
		dl.EnqueuedAt = time.UnixMilli(enqueuedAt)
		dl.FirstFailedAt = time.UnixMilli(firstFailedAt)
		dl.DeadLetteredAt = time.UnixMilli(deadAt)
		out = append(out, &dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

// DeadLetterCount implements DeadLetterQueue.
func (q *SQLiteQueue) DeadLetterCount(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Redrive implements DeadLetterQueue.
func (q *SQLiteQueue) Redrive(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	row := q.db.QueryRowContext(ctx, `
		SELECT envelope, enqueued_at FROM dead_letters WHERE id = ?
	`, id)
	var payload []byte
	var enqueuedAt int64
	if err := row.Scan(&payload, &enqueuedAt); err != nil {
		if err == sql.ErrNoRows {
			return ErrNoDeadLetter
		}
		return fmt.Errorf("redrive: %w", err)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("redrive: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, envelope, enqueued_at, visible_at)
		VALUES (?, ?, ?, ?)
	`, id, payload, enqueuedAt, q.now().UnixMilli()); err != nil {
		return fmt.Errorf("redrive insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("redrive delete: %w", err)
	}
	return tx.Commit()
}

// Depth returns the number of messages in the primary queue.
func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrClosed
	}

	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Close implements Queue.
func (q *SQLiteQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

var (
	_ Queue           = (*SQLiteQueue)(nil)
	_ DeadLetterQueue = (*SQLiteQueue)(nil)
)
