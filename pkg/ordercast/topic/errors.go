package topic

import "errors"

// ErrTopicClosed is returned when publishing to a closed topic.
var ErrTopicClosed = errors.New("topic is closed")

// ErrSubscriberBusy is recorded in the delivery report when a
// subscription's buffer is full at publish time. The envelope is
// dropped for that subscriber only.
var ErrSubscriberBusy = errors.New("subscriber buffer is full")
