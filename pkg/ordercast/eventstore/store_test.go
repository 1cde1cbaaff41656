package eventstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordercast/ordercast/pkg/ordercast/eventstore"
)

// clockAt returns a fixed clock for expiry tests.
func clockAt(millis int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(millis) }
}

func makeRecord(pk, sk string, ttl int64) eventstore.Record {
	return eventstore.Record{
		PK:        pk,
		SK:        sk,
		TTL:       ttl,
		Email:     "jane@example.com",
		CreatedAt: 1000,
		RequestID: "req-1",
		EventType: "CREATED",
	}
}

// storeUnderTest adapts each backend to a common test harness.
type storeUnderTest struct {
	eventstore.Store
	setClock func(func() time.Time)
}

func stores(t *testing.T) map[string]storeUnderTest {
	t.Helper()

	mem := eventstore.NewMemoryStore()

	sq, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	return map[string]storeUnderTest{
		"memory": {Store: mem, setClock: mem.SetClock},
		"sqlite": {Store: sq, setClock: sq.SetClock},
	}
}

// TestStoreAppendAndQuery verifies records come back sorted by sort key.
func TestStoreAppendAndQuery(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			s.setClock(clockAt(1000))
			ctx := context.Background()

			require.NoError(t, s.Append(ctx, makeRecord("#order_o-1", "DELETED#2000", 301)))
			require.NoError(t, s.Append(ctx, makeRecord("#order_o-1", "CREATED#1000", 301)))
			require.NoError(t, s.Append(ctx, makeRecord("#order_o-2", "CREATED#1500", 301)))

			recs, err := s.QueryByPartition(ctx, "#order_o-1")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "CREATED#1000", recs[0].SK)
			assert.Equal(t, "DELETED#2000", recs[1].SK)

			recs, err = s.QueryByPartition(ctx, "#order_o-2")
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

// TestStoreEmptyPartition verifies unknown partitions return empty, not error.
func TestStoreEmptyPartition(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			recs, err := s.QueryByPartition(context.Background(), "#order_missing")
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

// TestStoreTTLFiltering verifies expired records drop out of queries.
func TestStoreTTLFiltering(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			// Records created at t=1s with 300s retention expire at 301.
			s.setClock(clockAt(1000))
			require.NoError(t, s.Append(ctx, makeRecord("#order_o-1", "CREATED#1000", 301)))

			recs, err := s.QueryByPartition(ctx, "#order_o-1")
			require.NoError(t, err)
			assert.Len(t, recs, 1)

			// One second before expiry the record is still visible.
			s.setClock(clockAt(300_000))
			recs, err = s.QueryByPartition(ctx, "#order_o-1")
			require.NoError(t, err)
			assert.Len(t, recs, 1)

			// At the expiry instant it is gone.
			s.setClock(clockAt(301_000))
			recs, err = s.QueryByPartition(ctx, "#order_o-1")
			require.NoError(t, err)
			assert.Empty(t, recs)
		})
	}
}

// TestStoreDuplicateAppends verifies duplicates are kept, not merged.
func TestStoreDuplicateAppends(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			s.setClock(clockAt(1000))
			ctx := context.Background()

			rec := makeRecord("#order_o-1", "CREATED#1000", 301)
			require.NoError(t, s.Append(ctx, rec))
			require.NoError(t, s.Append(ctx, rec))

			recs, err := s.QueryByPartition(ctx, "#order_o-1")
			require.NoError(t, err)
			assert.Len(t, recs, 2)
		})
	}
}

// TestStoreClosed verifies operations fail after Close.
func TestStoreClosed(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())

			err := s.Append(context.Background(), makeRecord("#order_o-1", "CREATED#1000", 301))
			assert.ErrorIs(t, err, eventstore.ErrStoreClosed)

			_, err = s.QueryByPartition(context.Background(), "#order_o-1")
			assert.ErrorIs(t, err, eventstore.ErrStoreClosed)
		})
	}
}

// TestSQLitePurgeExpired verifies physical deletion of expired rows.
func TestSQLitePurgeExpired(t *testing.T) {
	s, err := eventstore.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	s.SetClock(clockAt(1000))
	require.NoError(t, s.Append(ctx, makeRecord("#order_o-1", "CREATED#1000", 301)))
	require.NoError(t, s.Append(ctx, makeRecord("#order_o-1", "DELETED#2000", 10_000)))

	s.SetClock(clockAt(301_000))
	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	recs, err := s.QueryByPartition(ctx, "#order_o-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "DELETED#2000", recs[0].SK)
}

// TestSQLiteFilePersistence verifies the log survives reopening.
func TestSQLiteFilePersistence(t *testing.T) {
	path := t.TempDir() + "/events.db"
	ctx := context.Background()

	s, err := eventstore.NewSQLiteStore(path)
	require.NoError(t, err)
	s.SetClock(clockAt(1000))
	require.NoError(t, s.Append(ctx, makeRecord("#order_o-1", "CREATED#1000", 301)))
	require.NoError(t, s.Close())

	reopened, err := eventstore.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	reopened.SetClock(clockAt(1000))

	recs, err := reopened.QueryByPartition(ctx, "#order_o-1")
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
