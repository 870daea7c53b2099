package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/dukex/engageflow/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	logger        *slog.Logger
	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, logger *slog.Logger) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		logger:        logger.With("module", "event_bus"),
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.TopicOf(event.GetType()), msg)
}

// Subscribe consumes the topics of the registered handlers, one goroutine per
// topic so each topic is dispatched in delivery order.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	for _, topic := range eb.topics() {
		messages, err := eb.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		go func() {
			for msg := range messages {
				eb.dispatch(ctx, msg)
			}
		}()
	}

	return nil
}

func (eb *WatermillEventBus) topics() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	seen := make(map[string]bool)
	topics := make([]string, 0, 2)

	for eventType := range eb.subscriptions {
		topic := events.TopicOf(eventType)
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}

	sort.Strings(topics)

	return topics
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		msg.Ack()

		return
	}

	var event any

	switch eventType {
	case events.EventLoggedEvent:
		event = &events.EventLogged{}
	case events.ContinuationDueEvent:
		event = &events.ContinuationDue{}
	case events.ExecutionFinishedEvent:
		event = &events.ExecutionFinished{}
	case events.MessageCreatedEvent:
		event = &events.MessageCreated{}
	case events.WorkflowActivatedEvent:
		event = &events.WorkflowActivated{}
	case events.WorkflowDeactivatedEvent:
		event = &events.WorkflowDeactivated{}
	default:
		eb.logger.WarnContext(ctx, "Dropping message with unknown event type", "event_type", eventType)
		msg.Ack()

		return
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		// A payload that cannot be decoded will never succeed; do not redeliver it.
		eb.logger.ErrorContext(ctx, "Failed to decode event", "event_type", eventType, "error", err)
		msg.Ack()

		return
	}

	err = handler(ctx, event)
	if err != nil {
		eb.logger.ErrorContext(ctx, "Event handler failed", "event_type", eventType, "error", err)
		msg.Nack()

		return
	}

	msg.Ack()
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
