// Package pubsub provides a generic in-process publish/subscribe broker.
package pubsub

import "time"

// EventType names the kind of event being published. Its string form is
// what observers see on the wire.
type EventType string

// Event is a published event with a typed payload. The JSON form is the
// envelope streamed to remote observers.
type Event[T any] struct {
	Type      EventType `json:"type"`
	Payload   T         `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
