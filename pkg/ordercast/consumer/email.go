package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// EmailSender delivers one notification email.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// EmailMessage is a rendered notification.
type EmailMessage struct {
	To      string
	Subject string
	Body    string
}

// LogSender is an EmailSender that writes the message to a logger
// instead of sending it. Used in tests and local runs.
type LogSender struct {
	Logger *slog.Logger
}

// Send implements EmailSender.
func (s *LogSender) Send(ctx context.Context, msg EmailMessage) error {
	if s.Logger != nil {
		s.Logger.InfoContext(ctx, "email notification",
			"to", msg.To,
			"subject", msg.Subject,
		)
	}
	return nil
}

// Notifier is the queue handler that turns order events into customer
// emails. Product events pass through unhandled; they carry no
// customer-facing notification.
type Notifier struct {
	sender EmailSender
}

// NewNotifier creates the email notification handler.
func NewNotifier(sender EmailSender) *Notifier {
	return &Notifier{sender: sender}
}

// Handle implements Handler.
func (n *Notifier) Handle(ctx context.Context, env event.Envelope) error {
	if env.Domain != event.DomainOrder {
		return nil
	}

	evt, err := env.OrderPayload()
	if err != nil {
		return err
	}
	if evt.Email == "" {
		return errors.NewValidation("email", "missing recipient")
	}

	msg := renderOrderEmail(env.EventType, evt)
	if err := n.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send notification for order %s: %w", evt.OrderID, err)
	}
	return nil
}

// renderOrderEmail builds the notification for one order event.
func renderOrderEmail(eventType string, evt *event.OrderEvent) EmailMessage {
	var subject string
	switch eventType {
	case string(event.OrderCreated):
		subject = fmt.Sprintf("Order %s confirmed", evt.OrderID)
	case string(event.OrderDeleted):
		subject = fmt.Sprintf("Order %s cancelled", evt.OrderID)
	default:
		subject = fmt.Sprintf("Order %s updated", evt.OrderID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\n\nYour order %s has been %s.\n", evt.OrderID, strings.ToLower(eventType))
	if len(evt.ProductCodes) > 0 {
		fmt.Fprintf(&b, "Items: %s\n", strings.Join(evt.ProductCodes, ", "))
	}
	if evt.Billing.TotalPrice > 0 {
		fmt.Fprintf(&b, "Total: %.2f (%s)\n", evt.Billing.TotalPrice, evt.Billing.Payment)
	}
	if evt.Shipping.Carrier != "" {
		fmt.Fprintf(&b, "Shipping: %s via %s\n", evt.Shipping.Type, evt.Shipping.Carrier)
	}
	b.WriteString("\nThank you for shopping with us.\n")

	return EmailMessage{To: evt.Email, Subject: subject, Body: b.String()}
}

var _ Handler = (*Notifier)(nil)
