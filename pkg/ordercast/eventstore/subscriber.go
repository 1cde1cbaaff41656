package eventstore

import (
	"context"
	"time"

	"github.com/ordercast/ordercast/pkg/ordercast/event"
	"github.com/ordercast/ordercast/pkg/ordercast/topic"
)

// Appender is the topic subscriber that records every published event
// in the log. It encodes the envelope at delivery time and performs a
// single append; storage errors surface to the topic's OnError hook,
// never to the publisher.
type Appender struct {
	codec   Codec
	store   Store
	now     func() time.Time
	observe func(rec Record, err error)
}

// NewAppender creates the event-log subscriber.
func NewAppender(codec Codec, store Store) *Appender {
	return &Appender{codec: codec, store: store, now: time.Now}
}

// SetClock overrides the appender's clock. Test hook.
func (a *Appender) SetClock(now func() time.Time) {
	a.now = now
}

// Observe registers a hook that sees every append outcome. The
// pipeline feeds its metrics and logs through it.
func (a *Appender) Observe(fn func(rec Record, err error)) {
	a.observe = fn
}

// Handle implements topic.Handler.
func (a *Appender) Handle(ctx context.Context, env event.Envelope) error {
	rec, err := a.codec.Encode(env, a.now())
	if err != nil {
		return err
	}
	err = a.store.Append(ctx, rec)
	if a.observe != nil {
		a.observe(rec, err)
	}
	return err
}

var _ topic.Handler = (*Appender)(nil)
