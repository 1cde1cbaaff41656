//go:build integration

package queue_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/queue"
)

// newRedisQueue connects to the Redis named by REDIS_ADDR (default
// localhost:6379) under a unique key prefix per test.
func newRedisQueue(t *testing.T, cfg queue.Config) *queue.RedisQueue {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}

	prefix := fmt.Sprintf("ordercast:test:%s:%d", t.Name(), time.Now().UnixNano())
	q := queue.NewRedisQueue(rdb, prefix, cfg)

	t.Cleanup(func() {
		cleanup := context.Background()
		iter := rdb.Scan(cleanup, 0, prefix+":*", 0).Iterator()
		for iter.Next(cleanup) {
			rdb.Del(cleanup, iter.Val())
		}
		q.Close()
		rdb.Close()
	})
	return q
}

func TestRedisEnqueueReceiveAck(t *testing.T) {
	q := newRedisQueue(t, queue.DefaultConfig)
	ctx := context.Background()

	env := testEnvelope(t, "o-1")
	id, err := q.Enqueue(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, env.MessageID, id)

	msg := receive(t, q)
	assert.Equal(t, id, msg.ID)
	assert.Equal(t, 1, msg.ReceiveCount)
	assert.JSONEq(t, string(env.Payload), string(msg.Envelope.Payload))

	require.NoError(t, q.Ack(ctx, msg.ID))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestRedisRetryCeilingDeadLetters(t *testing.T) {
	q := newRedisQueue(t, queue.DefaultConfig)
	ctx := context.Background()

	env := testEnvelope(t, "o-1")
	_, err := q.Enqueue(ctx, env)
	require.NoError(t, err)

	for attempt := 1; attempt <= 4; attempt++ {
		msg := receive(t, q)
		assert.Equal(t, attempt, msg.ReceiveCount)
		require.NoError(t, q.Nack(ctx, msg.ID, stderrors.New("still failing")))
	}

	n, err := q.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, env.MessageID, dead[0].ID)
	assert.Equal(t, 4, dead[0].Attempts)
	assert.JSONEq(t, string(env.Payload), string(dead[0].Envelope.Payload))
}

func TestRedisNonRetryableNackDeadLetters(t *testing.T) {
	q := newRedisQueue(t, queue.DefaultConfig)
	ctx := context.Background()

	env := testEnvelope(t, "o-1")
	_, err := q.Enqueue(ctx, env)
	require.NoError(t, err)

	msg := receive(t, q)
	require.NoError(t, q.Nack(ctx, msg.ID, errors.NewValidation("email", "missing recipient")))

	dead, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, 1, dead[0].Attempts)
	assert.Contains(t, dead[0].LastError, "missing recipient")
}

func TestRedisVisibilityReclaim(t *testing.T) {
	q := newRedisQueue(t, queue.Config{
		MaxReceiveCount:   3,
		VisibilityTimeout: 100 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, testEnvelope(t, "o-1"))
	require.NoError(t, err)

	first := receive(t, q)
	// Abandon the lease.

	second := receive(t, q)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ReceiveCount)
	require.NoError(t, q.Ack(ctx, second.ID))
}

func TestRedisRedrive(t *testing.T) {
	q := newRedisQueue(t, queue.DefaultConfig)
	ctx := context.Background()

	env := testEnvelope(t, "o-1")
	_, err := q.Enqueue(ctx, env)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		msg := receive(t, q)
		require.NoError(t, q.Nack(ctx, msg.ID, stderrors.New("fail")))
	}

	require.NoError(t, q.Redrive(ctx, env.MessageID))

	msg := receive(t, q)
	assert.Equal(t, env.MessageID, msg.ID)
	assert.Equal(t, 1, msg.ReceiveCount)
	require.NoError(t, q.Ack(ctx, msg.ID))

	assert.ErrorIs(t, q.Redrive(ctx, "missing"), queue.ErrNoDeadLetter)
}
