// Package ordercast distributes order events to independent
// subscribers and records them in a TTL-bounded event log.
//
// A published event fans out through a topic to three subscribers: an
// appender that writes every event to the keyed event log, a billing
// handler that sees only order-creation events, and a durable queue
// feeding the email notifier with at-least-once delivery. A message
// that keeps failing past the retry ceiling lands in the dead-letter
// queue with its payload untouched.
//
// Basic usage:
//
//	p, err := ordercast.New(
//		ordercast.WithEmailSender(&consumer.LogSender{Logger: logger}),
//	)
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//	p.Start(ctx)
//
//	msgID, err := p.PublishOrderEvent(ctx, event.OrderCreated, &event.OrderEvent{
//		Email:   "jane@example.com",
//		OrderID: "o-1001",
//	})
package ordercast
