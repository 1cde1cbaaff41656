package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ordercast/ordercast/pkg/ordercast/errors"
)

// Domain identifies which event family an envelope carries.
type Domain string

const (
	DomainOrder   Domain = "order"
	DomainProduct Domain = "product"
)

// Envelope is the transport wrapper for one published event. The same
// envelope shape flows through the topic and the durable queue, so a
// dead-lettered message is byte-identical to what was published.
//
// EventType is carried as an envelope attribute (not only inside the
// payload) so subscriptions can filter without decoding the payload.
type Envelope struct {
	MessageID   string          `json:"messageId"`
	Domain      Domain          `json:"domain"`
	EventType   string          `json:"eventType"`
	RequestID   string          `json:"requestId"`
	PublishedAt time.Time       `json:"publishedAt"`
	Payload     json.RawMessage `json:"payload"`
}

// EnvelopeOption configures envelope creation.
type EnvelopeOption func(*Envelope)

// WithMessageID sets a specific message ID (default: auto-generated UUID).
func WithMessageID(id string) EnvelopeOption {
	return func(env *Envelope) {
		env.MessageID = id
	}
}

// WithPublishedAt sets a specific publish timestamp (default: time.Now()).
func WithPublishedAt(t time.Time) EnvelopeOption {
	return func(env *Envelope) {
		env.PublishedAt = t
	}
}

// NewOrderEnvelope validates evt for the given type and wraps it for
// transport. Returns a ValidationError without an envelope when the
// event is malformed.
func NewOrderEnvelope(t OrderEventType, evt *OrderEvent, opts ...EnvelopeOption) (Envelope, error) {
	if err := evt.Validate(t); err != nil {
		return Envelope{}, err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, errors.NewValidation("payload", err.Error())
	}

	env := Envelope{
		MessageID:   uuid.New().String(),
		Domain:      DomainOrder,
		EventType:   string(t),
		RequestID:   evt.RequestID,
		PublishedAt: time.Now(),
		Payload:     payload,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

// NewProductEnvelope validates evt and wraps it for transport.
func NewProductEnvelope(evt *ProductEvent, opts ...EnvelopeOption) (Envelope, error) {
	if err := evt.Validate(); err != nil {
		return Envelope{}, err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, errors.NewValidation("payload", err.Error())
	}

	env := Envelope{
		MessageID:   uuid.New().String(),
		Domain:      DomainProduct,
		EventType:   string(evt.EventType),
		RequestID:   evt.RequestID,
		PublishedAt: time.Now(),
		Payload:     payload,
	}
	for _, opt := range opts {
		opt(&env)
	}
	return env, nil
}

// OrderPayload decodes the carried order event.
func (env Envelope) OrderPayload() (*OrderEvent, error) {
	if env.Domain != DomainOrder {
		return nil, errors.NewValidation("domain", "envelope does not carry an order event")
	}
	var evt OrderEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return nil, errors.NewValidation("payload", err.Error())
	}
	return &evt, nil
}

// ProductPayload decodes the carried product event.
func (env Envelope) ProductPayload() (*ProductEvent, error) {
	if env.Domain != DomainProduct {
		return nil, errors.NewValidation("domain", "envelope does not carry a product event")
	}
	var evt ProductEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return nil, errors.NewValidation("payload", err.Error())
	}
	return &evt, nil
}
