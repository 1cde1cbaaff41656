package event

import (
	"github.com/ordercast/ordercast/pkg/ordercast/errors"
)

// ProductEventType enumerates the product event types.
type ProductEventType string

const (
	ProductCreated ProductEventType = "PRODUCT_CREATED"
	ProductUpdated ProductEventType = "PRODUCT_UPDATED"
	ProductDeleted ProductEventType = "PRODUCT_DELETED"
)

// Valid reports whether t is one of the enumerated product event types.
func (t ProductEventType) Valid() bool {
	switch t {
	case ProductCreated, ProductUpdated, ProductDeleted:
		return true
	}
	return false
}

// ProductEvent is the domain event emitted when a product changes
// state. Unlike orders, the event type travels inside the event.
type ProductEvent struct {
	RequestID    string           `json:"requestId"`
	EventType    ProductEventType `json:"eventType"`
	ProductID    string           `json:"productId"`
	ProductCode  string           `json:"productCode"`
	ProductPrice float64          `json:"productPrice"`
	Email        string           `json:"email"`
}

// Validate checks the event against the product domain rules.
func (e *ProductEvent) Validate() error {
	if !e.EventType.Valid() {
		return errors.NewValidation("eventType", "unknown product event type "+string(e.EventType))
	}
	if e.ProductID == "" {
		return errors.NewValidation("productId", "required")
	}
	if e.ProductCode == "" {
		return errors.NewValidation("productCode", "required")
	}
	if e.RequestID == "" {
		return errors.NewValidation("requestId", "required")
	}
	if e.Email == "" {
		return errors.NewValidation("email", "required")
	}
	return nil
}
