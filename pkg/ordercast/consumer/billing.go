package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// BillingProcessor charges one created order.
type BillingProcessor interface {
	Charge(ctx context.Context, evt *event.OrderEvent) error
}

// BillingProcessorFunc adapts a function to BillingProcessor.
type BillingProcessorFunc func(ctx context.Context, evt *event.OrderEvent) error

// Charge implements BillingProcessor.
func (f BillingProcessorFunc) Charge(ctx context.Context, evt *event.OrderEvent) error {
	return f(ctx, evt)
}

// LogBilling is a BillingProcessor that records the charge to a
// logger. Used in tests and local runs.
type LogBilling struct {
	Logger *slog.Logger
}

// Charge implements BillingProcessor.
func (p *LogBilling) Charge(ctx context.Context, evt *event.OrderEvent) error {
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "billing charge",
			"orderId", evt.OrderID,
			"payment", evt.Billing.Payment,
			"totalPrice", evt.Billing.TotalPrice,
		)
	}
	return nil
}

// BillingHandler processes order-creation events. It is subscribed to
// the topic behind a filter admitting only created orders; events of
// any other type that still arrive are skipped, not failed.
//
// It satisfies both the topic's and the queue consumer's handler
// contracts, so billing can run fan-out-direct or behind the durable
// queue.
type BillingHandler struct {
	processor BillingProcessor
}

// NewBillingHandler creates the billing event handler.
func NewBillingHandler(processor BillingProcessor) *BillingHandler {
	return &BillingHandler{processor: processor}
}

// Handle processes one envelope.
func (h *BillingHandler) Handle(ctx context.Context, env event.Envelope) error {
	if env.Domain != event.DomainOrder || env.EventType != string(event.OrderCreated) {
		return nil
	}

	evt, err := env.OrderPayload()
	if err != nil {
		return err
	}
	if err := h.processor.Charge(ctx, evt); err != nil {
		return fmt.Errorf("charge order %s: %w", evt.OrderID, err)
	}
	return nil
}

var _ Handler = (*BillingHandler)(nil)
