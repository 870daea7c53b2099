// Package eventbus provides event-driven communication between the API and the workers.
package eventbus

import (
	"context"

	"github.com/dukex/engageflow/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes events; key decides the partition and therefore
// the relative ordering of events sharing it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
