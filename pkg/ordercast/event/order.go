// Package event defines the domain events accepted by the pipeline,
// their enumerated types and validation rules, and the transport
// envelope that carries a published event across topic and queue
// boundaries.
package event

import (
	"github.com/ordercast/ordercast/pkg/ordercast/errors"
)

// OrderEventType enumerates the order event types.
type OrderEventType string

const (
	// OrderCreated is published when an order is placed.
	OrderCreated OrderEventType = "CREATED"

	// OrderDeleted is published when an order is removed.
	OrderDeleted OrderEventType = "DELETED"
)

// Valid reports whether t is one of the enumerated order event types.
func (t OrderEventType) Valid() bool {
	switch t {
	case OrderCreated, OrderDeleted:
		return true
	}
	return false
}

// Shipping carries the shipping selection of an order.
type Shipping struct {
	Type    string `json:"type"`
	Carrier string `json:"carrier"`
}

// Billing carries the payment selection and total of an order.
type Billing struct {
	Payment    string  `json:"payment"`
	TotalPrice float64 `json:"totalPrice"`
}

// OrderEvent is the domain event emitted when an order changes state.
// Field names and types are the inbound contract for callers.
type OrderEvent struct {
	Email        string   `json:"email"`
	OrderID      string   `json:"orderId"`
	Shipping     Shipping `json:"shipping"`
	Billing      Billing  `json:"billing"`
	ProductCodes []string `json:"productCodes"`
	RequestID    string   `json:"requestId"`
}

// Validate checks the event against the order domain rules for the
// given event type. Unknown types and missing required fields are a
// ValidationError, never silently stored.
func (e *OrderEvent) Validate(t OrderEventType) error {
	if !t.Valid() {
		return errors.NewValidation("eventType", "unknown order event type "+string(t))
	}
	if e.OrderID == "" {
		return errors.NewValidation("orderId", "required")
	}
	if e.RequestID == "" {
		return errors.NewValidation("requestId", "required")
	}
	if e.Email == "" {
		return errors.NewValidation("email", "required")
	}
	if len(e.ProductCodes) == 0 {
		return errors.NewValidation("productCodes", "at least one product code required")
	}
	return nil
}
