package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// RedisQueue is a Queue + DeadLetterQueue backed by Redis, for
// multi-process competing consumers. Message bodies live in hashes;
// a list holds ready IDs, sorted sets hold delayed and in-flight IDs
// scored by their due time.
//
// Key layout under the configured prefix:
//
//	{prefix}:ready      list of message IDs, FIFO
//	{prefix}:delayed    zset of message IDs scored by visible-at millis
//	{prefix}:inflight   zset of message IDs scored by reclaim deadline
//	{prefix}:dead       list of dead-lettered message IDs
//	{prefix}:msg:{id}   hash with the message body and bookkeeping
type RedisQueue struct {
	cfg    Config
	rdb    redis.UniversalClient
	prefix string

	mu     sync.Mutex
	closed bool

	now func() time.Time
}

// claimScript atomically promotes due delayed messages, pops the next
// ready ID, bumps its receive count, and parks it in flight.
var claimScript = redis.NewScript(`
local ready, delayed, inflight = KEYS[1], KEYS[2], KEYS[3]
local prefix, now, deadline = ARGV[1], ARGV[2], ARGV[3]

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now)
for _, id in ipairs(due) do
	redis.call('ZREM', delayed, id)
	redis.call('RPUSH', ready, id)
end

local id = redis.call('LPOP', ready)
if not id then
	return false
end

local key = prefix .. ':msg:' .. id
local count = redis.call('HINCRBY', key, 'receive_count', 1)
redis.call('ZADD', inflight, deadline, id)

return {id, count, redis.call('HGET', key, 'envelope'), redis.call('HGET', key, 'enqueued_at')}
`)

// ackScript removes an in-flight message and its body.
var ackScript = redis.NewScript(`
local inflight = KEYS[1]
local prefix, id = ARGV[1], ARGV[2]

if redis.call('ZREM', inflight, id) == 0 then
	return 0
end
redis.call('DEL', prefix .. ':msg:' .. id)
return 1
`)

// nackScript re-schedules or dead-letters an in-flight message. The
// force flag quarantines regardless of the receive count, for causes
// redelivery cannot cure.
var nackScript = redis.NewScript(`
local inflight, delayed, dead = KEYS[1], KEYS[2], KEYS[3]
local prefix, id, maxReceive, visibleAt, now, reason, force = ARGV[1], ARGV[2], tonumber(ARGV[3]), ARGV[4], ARGV[5], ARGV[6], ARGV[7]

if redis.call('ZREM', inflight, id) == 0 then
	return -1
end

local key = prefix .. ':msg:' .. id
redis.call('HSET', key, 'last_error', reason)
if redis.call('HGET', key, 'first_failed_at') == '0' then
	redis.call('HSET', key, 'first_failed_at', now)
end

local count = tonumber(redis.call('HGET', key, 'receive_count'))
if count > maxReceive or force == '1' then
	redis.call('HSET', key, 'dead_lettered_at', now)
	redis.call('RPUSH', dead, id)
	return count
end

redis.call('ZADD', delayed, visibleAt, id)
return 0
`)

// reclaimScript moves lapsed in-flight messages back to delayed, or to
// the dead list once past the receive ceiling.
var reclaimScript = redis.NewScript(`
local inflight, delayed, dead = KEYS[1], KEYS[2], KEYS[3]
local prefix, now, maxReceive = ARGV[1], ARGV[2], tonumber(ARGV[3])

local expired = redis.call('ZRANGEBYSCORE', inflight, '-inf', now)
for _, id in ipairs(expired) do
	redis.call('ZREM', inflight, id)
	local key = prefix .. ':msg:' .. id
	redis.call('HSET', key, 'last_error', 'visibility timeout expired')
	if redis.call('HGET', key, 'first_failed_at') == '0' then
		redis.call('HSET', key, 'first_failed_at', now)
	end
	local count = tonumber(redis.call('HGET', key, 'receive_count'))
	if count > maxReceive then
		redis.call('HSET', key, 'dead_lettered_at', now)
		redis.call('RPUSH', dead, id)
	else
		redis.call('ZADD', delayed, now, id)
	end
end
return #expired
`)

// NewRedisQueue creates a Redis-backed queue. The prefix namespaces
// all keys so multiple queues can share one Redis instance.
func NewRedisQueue(rdb redis.UniversalClient, prefix string, cfg Config) *RedisQueue {
	if prefix == "" {
		prefix = "ordercast:queue"
	}
	return &RedisQueue{
		cfg:    cfg.withDefaults(),
		rdb:    rdb,
		prefix: prefix,
		now:    time.Now,
	}
}

// SetClock overrides the queue's clock. Test hook.
func (q *RedisQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.now = now
}

// SetOnDeadLetter adds a quarantine observer alongside any callback
// already configured.
func (q *RedisQueue) SetOnDeadLetter(fn func(*DeadLetter)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cfg.OnDeadLetter = chainDeadLetter(q.cfg.OnDeadLetter, fn)
}

func (q *RedisQueue) clock() func() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.now
}

func (q *RedisQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *RedisQueue) key(parts ...string) string {
	k := q.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, env event.Envelope) (string, error) {
	if q.isClosed() {
		return "", ErrClosed
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	millis := q.clock()().UnixMilli()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.key("msg", env.MessageID), map[string]any{
		"envelope":        payload,
		"receive_count":   0,
		"enqueued_at":     millis,
		"first_failed_at": 0,
		"last_error":      "",
	})
	pipe.RPush(ctx, q.key("ready"), env.MessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return env.MessageID, nil
}

// Receive implements Queue. Polls Redis until a message is eligible or
// ctx is done.
func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	ticker := time.NewTicker(receivePollInterval)
	defer ticker.Stop()

	for {
		if q.isClosed() {
			return nil, ErrClosed
		}

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

func (q *RedisQueue) tryReceive(ctx context.Context) (*Message, error) {
	now := q.clock()()
	keys := []string{q.key("inflight"), q.key("delayed"), q.key("dead")}
	if err := reclaimScript.Run(ctx, q.rdb, keys,
		q.prefix, now.UnixMilli(), q.cfg.MaxReceiveCount).Err(); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("reclaim: %w", err)
	}

	deadline := now.Add(q.cfg.VisibilityTimeout).UnixMilli()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.key("ready"), q.key("delayed"), q.key("inflight")},
		q.prefix, now.UnixMilli(), deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}

	fields, ok := res.([]any)
	if !ok || len(fields) != 4 {
		return nil, fmt.Errorf("claim: unexpected reply %T", res)
	}

	id, _ := fields[0].(string)
	count, _ := fields[1].(int64)
	raw, _ := fields[2].(string)
	enqueuedStr, _ := fields[3].(string)
	enqueuedMillis, _ := strconv.ParseInt(enqueuedStr, 10, 64)

	var env event.Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	return &Message{
		ID:           id,
		Envelope:     env,
		ReceiveCount: int(count),
		EnqueuedAt:   time.UnixMilli(enqueuedMillis),
	}, nil
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	if q.isClosed() {
		return ErrClosed
	}

	n, err := ackScript.Run(ctx, q.rdb, []string{q.key("inflight")}, q.prefix, id).Int()
	if err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	if n == 0 {
		return ErrUnknownMessage
	}
	return nil
}

// Nack implements Queue.
func (q *RedisQueue) Nack(ctx context.Context, id string, cause error) error {
	if q.isClosed() {
		return ErrClosed
	}

	reason := "consumer failure"
	if cause != nil {
		reason = cause.Error()
	}

	// The receive count for the delay schedule is read back from the
	// hash inside the script; pass the worst-case delay deadline here.
	now := q.clock()()
	countStr, err := q.rdb.HGet(ctx, q.key("msg", id), "receive_count").Result()
	if err == redis.Nil {
		return ErrUnknownMessage
	}
	if err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	count, _ := strconv.Atoi(countStr)
	visibleAt := now.Add(q.cfg.Redelivery.Delay(count)).UnixMilli()

	force := "0"
	if !retryable(cause) {
		force = "1"
	}

	res, err := nackScript.Run(ctx, q.rdb,
		[]string{q.key("inflight"), q.key("delayed"), q.key("dead")},
		q.prefix, id, q.cfg.MaxReceiveCount, visibleAt, now.UnixMilli(), reason, force).Int()
	if err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	if res == -1 {
		return ErrUnknownMessage
	}
	if res > 0 && q.cfg.OnDeadLetter != nil {
		if dl, err := q.loadDeadLetter(ctx, id); err == nil {
			q.cfg.OnDeadLetter(dl)
		}
	}
	return nil
}

// loadDeadLetter reads one quarantined message hash.
func (q *RedisQueue) loadDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	fields, err := q.rdb.HGetAll(ctx, q.key("msg", id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load dead letter: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNoDeadLetter
	}

	var env event.Envelope
	if err := json.Unmarshal([]byte(fields["envelope"]), &env); err != nil {
		return nil, fmt.Errorf("decode dead letter: %w", err)
	}

	count, _ := strconv.Atoi(fields["receive_count"])
	enqueuedAt, _ := strconv.ParseInt(fields["enqueued_at"], 10, 64)
	firstFailedAt, _ := strconv.ParseInt(fields["first_failed_at"], 10, 64)
	deadAt, _ := strconv.ParseInt(fields["dead_lettered_at"], 10, 64)

	return &DeadLetter{
		Message: Message{
			ID:           id,
			Envelope:     env,
			ReceiveCount: count,
			EnqueuedAt:   time.UnixMilli(enqueuedAt),
		},
		Attempts:       count,
		LastError:      fields["last_error"],
		FirstFailedAt:  time.UnixMilli(firstFailedAt),
		DeadLetteredAt: time.UnixMilli(deadAt),
	}, nil
}

// DeadLetters implements DeadLetterQueue.
func (q *RedisQueue) DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}

	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	ids, err := q.rdb.LRange(ctx, q.key("dead"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	out := make([]*DeadLetter, 0, len(ids))
	for _, id := range ids {
		dl, err := q.loadDeadLetter(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, nil
}

// DeadLetterCount implements DeadLetterQueue.
func (q *RedisQueue) DeadLetterCount(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrClosed
	}

	n, err := q.rdb.LLen(ctx, q.key("dead")).Result()
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return int(n), nil
}

// redriveScript moves a dead letter back to the ready list with a
// reset receive count.
var redriveScript = redis.NewScript(`
local dead, ready = KEYS[1], KEYS[2]
local prefix, id = ARGV[1], ARGV[2]

if redis.call('LREM', dead, 1, id) == 0 then
	return 0
end
local key = prefix .. ':msg:' .. id
redis.call('HSET', key, 'receive_count', 0, 'first_failed_at', 0, 'last_error', '')
redis.call('HDEL', key, 'dead_lettered_at')
redis.call('RPUSH', ready, id)
return 1
`)

// Redrive implements DeadLetterQueue.
func (q *RedisQueue) Redrive(ctx context.Context, id string) error {
	if q.isClosed() {
		return ErrClosed
	}

	n, err := redriveScript.Run(ctx, q.rdb,
		[]string{q.key("dead"), q.key("ready")}, q.prefix, id).Int()
	if err != nil {
		return fmt.Errorf("redrive: %w", err)
	}
	if n == 0 {
		return ErrNoDeadLetter
	}
	return nil
}

// Depth returns ready plus delayed plus in-flight message counts.
func (q *RedisQueue) Depth(ctx context.Context) (int, error) {
	if q.isClosed() {
		return 0, ErrClosed
	}

	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, q.key("ready"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	inflight := pipe.ZCard(ctx, q.key("inflight"))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return int(ready.Val() + delayed.Val() + inflight.Val()), nil
}

// Close implements Queue. The Redis client is owned by the caller and
// is not closed here.
func (q *RedisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

var (
	_ Queue           = (*RedisQueue)(nil)
	_ DeadLetterQueue = (*RedisQueue)(nil)
)
