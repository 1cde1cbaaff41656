package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
)

// SQLiteStore persists the event log to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool

	now func() time.Time
}

// NewSQLiteStore creates a new SQLite event store.
// The path should be a file path (e.g., "./events.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &errors.StorageError{Op: "open", Err: err}
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &errors.StorageError{Op: "open", Err: fmt.Errorf("enable WAL mode: %w", err)}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			pk TEXT NOT NULL,
			sk TEXT NOT NULL,
			ttl INTEGER NOT NULL,
			email TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			request_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			info BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, &errors.StorageError{Op: "open", Err: fmt.Errorf("create table: %w", err)}
	}

	// Not unique: concurrent producers may collide on (pk, sk) at
	// millisecond resolution and duplicates are accepted.
	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_pk_sk
		ON events(pk, sk)
	`); err != nil {
		db.Close()
		return nil, &errors.StorageError{Op: "open", Err: fmt.Errorf("create index: %w", err)}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SetClock overrides the store's clock. Test hook.
func (s *SQLiteStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Append implements Store. A single unconditional insert.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	info, err := json.Marshal(rec.Info)
	if err != nil {
		return &errors.StorageError{Op: "append", Err: err}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (pk, sk, ttl, email, created_at, request_id, event_type, info)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.PK, rec.SK, rec.TTL, rec.Email, rec.CreatedAt, rec.RequestID, rec.EventType, info)
	if err != nil {
		return &errors.StorageError{Op: "append", Err: err}
	}
	return nil
}

// QueryByPartition implements Store.
func (s *SQLiteStore) QueryByPartition(ctx context.Context, pk string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, ttl, email, created_at, request_id, event_type, info
		FROM events
		WHERE pk = ? AND ttl > ?
		ORDER BY sk
	`, pk, s.now().Unix())
	if err != nil {
		return nil, &errors.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var info []byte
		if err := rows.Scan(&rec.PK, &rec.SK, &rec.TTL, &rec.Email, &rec.CreatedAt,
			&rec.RequestID, &rec.EventType, &info); err != nil {
			return nil, &errors.StorageError{Op: "query", Err: err}
		}
		if err := json.Unmarshal(info, &rec.Info); err != nil {
			return nil, &errors.StorageError{Op: "query", Err: err}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, &errors.StorageError{Op: "query", Err: err}
	}
	return records, nil
}

// PurgeExpired deletes records whose TTL has passed and returns how
// many were removed. Expiry is the store's responsibility, not the
// pipeline's; call this from a janitor or rely on query-time
// filtering.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ttl <= ?`, s.now().Unix())
	if err != nil {
		return 0, &errors.StorageError{Op: "purge", Err: err}
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
