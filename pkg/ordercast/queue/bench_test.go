package queue_test

import (
	"context"
	"testing"

	"github.com/ordercast/ordercast/pkg/ordercast/event"
	"github.com/ordercast/ordercast/pkg/ordercast/queue"
)

func benchEnvelope(b *testing.B) event.Envelope {
	b.Helper()
	env, err := event.NewOrderEnvelope(event.OrderCreated, &event.OrderEvent{
		Email:        "jane@example.com",
		OrderID:      "o-1",
		ProductCodes: []string{"P100"},
		RequestID:    "req-1",
	})
	if err != nil {
		b.Fatal(err)
	}
	return env
}

func BenchmarkMemoryQueueRoundTrip(b *testing.B) {
	q := queue.NewMemoryQueue(queue.DefaultConfig)
	defer q.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env := benchEnvelope(b)
		if _, err := q.Enqueue(ctx, env); err != nil {
			b.Fatal(err)
		}
		msg, err := q.Receive(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if err := q.Ack(ctx, msg.ID); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSQLiteQueueRoundTrip(b *testing.B) {
	q, err := queue.NewSQLiteQueue(":memory:", queue.DefaultConfig)
	if err != nil {
		b.Fatal(err)
	}
	defer q.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		env := benchEnvelope(b)
		if _, err := q.Enqueue(ctx, env); err != nil {
			b.Fatal(err)
		}
		msg, err := q.Receive(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if err := q.Ack(ctx, msg.ID); err != nil {
			b.Fatal(err)
		}
	}
}
