// Package eventbus provides the cross-process publish/subscribe seam used
// when internal/broadcast is horizontally scaled across multiple daemon
// replicas: a session's viewers may be connected to a different process
// than the one driving that session's prompt, so Hub.EmitToSession must
// also reach peers over a shared bus. Grounded on
// apps/backend/internal/events/bus/bus.go's EventBus interface shape
// (Event/EventHandler/Subscription, Publish/Subscribe/QueueSubscribe/
// Request/Close/IsConnected) — adapted to this daemon's lighter-weight
// publish-and-relay use (no Request/reply pattern is used by
// internal/broadcast, but it is kept on the interface since both the
// teacher and NATS itself support it at no extra cost).
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one message on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // node ID that published this event
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an Event with a fresh ID and the current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler processes one delivered Event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the cross-process fan-out abstraction internal/broadcast
// relays through when running more than one daemon replica.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler EventHandler) (Subscription, error)
	Request(ctx context.Context, subject string, event *Event, timeout time.Duration) (*Event, error)
	Close()
	IsConnected() bool
}
