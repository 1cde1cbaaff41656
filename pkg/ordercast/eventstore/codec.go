package eventstore

import (
	"fmt"
	"time"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
	"github.com/ordercast/ordercast/pkg/ordercast/event"
)

// DefaultRetention is the fixed retention window added to a record's
// creation time to compute its expiry.
const DefaultRetention = 5 * time.Minute

// Codec builds event-log records from domain events. Encoding is a
// pure function of its inputs: identical event and timestamp produce
// an identical record.
type Codec struct {
	// Retention is the time-to-live window. Zero means DefaultRetention.
	Retention time.Duration
}

// OrderPartition returns the partition key for one order's history.
func OrderPartition(orderID string) string {
	return "#order_" + orderID
}

// ProductPartition returns the partition key for one product's history.
func ProductPartition(productCode string) string {
	return "#product_" + productCode
}

// retentionSeconds returns the effective retention in whole seconds.
func (c Codec) retentionSeconds() int64 {
	r := c.Retention
	if r <= 0 {
		r = DefaultRetention
	}
	return int64(r / time.Second)
}

// Encode builds the record for a transport envelope at the given
// instant. The envelope's domain selects the key scheme and info
// shape. Malformed payloads and unknown event types fail with a
// ValidationError.
func (c Codec) Encode(env event.Envelope, now time.Time) (Record, error) {
	switch env.Domain {
	case event.DomainOrder:
		evt, err := env.OrderPayload()
		if err != nil {
			return Record{}, err
		}
		return c.EncodeOrder(event.OrderEventType(env.EventType), evt, env.MessageID, now)
	case event.DomainProduct:
		evt, err := env.ProductPayload()
		if err != nil {
			return Record{}, err
		}
		return c.EncodeProduct(evt, env.MessageID, now)
	default:
		return Record{}, errors.NewValidation("domain", "unknown event domain "+string(env.Domain))
	}
}

// EncodeOrder builds the record for an order event.
// Keys: pk "#order_<orderId>", sk "<TYPE>#<millis>".
func (c Codec) EncodeOrder(t event.OrderEventType, evt *event.OrderEvent, messageID string, now time.Time) (Record, error) {
	if err := evt.Validate(t); err != nil {
		return Record{}, err
	}

	millis := now.UnixMilli()
	return Record{
		PK:        OrderPartition(evt.OrderID),
		SK:        fmt.Sprintf("%s#%d", t, millis),
		TTL:       millis/1000 + c.retentionSeconds(),
		Email:     evt.Email,
		CreatedAt: millis,
		RequestID: evt.RequestID,
		EventType: string(t),
		Info: Info{
			OrderID:      evt.OrderID,
			ProductCodes: evt.ProductCodes,
			MessageID:    messageID,
		},
	}, nil
}

// EncodeProduct builds the record for a product event.
// Keys: pk "#product_<productCode>", sk "<TYPE>#<millis>".
func (c Codec) EncodeProduct(evt *event.ProductEvent, messageID string, now time.Time) (Record, error) {
	if err := evt.Validate(); err != nil {
		return Record{}, err
	}

	millis := now.UnixMilli()
	return Record{
		PK:        ProductPartition(evt.ProductCode),
		SK:        fmt.Sprintf("%s#%d", evt.EventType, millis),
		TTL:       millis/1000 + c.retentionSeconds(),
		Email:     evt.Email,
		CreatedAt: millis,
		RequestID: evt.RequestID,
		EventType: string(evt.EventType),
		Info: Info{
			ProductID: evt.ProductID,
			Price:     evt.ProductPrice,
			MessageID: messageID,
		},
	}, nil
}
