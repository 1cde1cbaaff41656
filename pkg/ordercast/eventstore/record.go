// Package eventstore builds and persists the canonical event-log
// records of the pipeline: a keyed, append-only, time-bounded log
// supporting efficient per-subject, per-type range reads.
package eventstore

// Info is the denormalized sub-record stored with every event so
// external readers can reconstruct context without a join. The field
// set differs per domain; unused fields are omitted.
type Info struct {
	// Order events
	OrderID      string   `json:"orderId,omitempty"`
	ProductCodes []string `json:"productCodes,omitempty"`

	// Product events
	ProductID string  `json:"productId,omitempty"`
	Price     float64 `json:"price,omitempty"`

	// MessageID of the envelope that produced the record.
	MessageID string `json:"messageId,omitempty"`
}

// Record is one persisted event-log entry. The field names are the
// bit-exact stored schema external auditors rely on.
//
// PK groups all events of one subject ("#order_<id>",
// "#product_<code>"); SK orders them by type and creation time
// ("<EVENT_TYPE>#<millis>"). Records are written once, never mutated,
// and expire when TTL (epoch seconds) passes.
type Record struct {
	PK        string `json:"pk"`
	SK        string `json:"sk"`
	TTL       int64  `json:"ttl"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"createdAt"`
	RequestID string `json:"requestId"`
	EventType string `json:"eventType"`
	Info      Info   `json:"info"`
}
