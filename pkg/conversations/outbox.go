package conversations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/engageflow/pkg/eventbus"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/models"
)

// OriginWorkflow marks messages written by workflow actions.
const OriginWorkflow = "workflow"

// Outbox persists messages sent by workflows and announces them to realtime
// subscribers.
type Outbox struct {
	store     Store
	publisher eventbus.EventBus
	logger    *slog.Logger
}

func NewOutbox(store Store, publisher eventbus.EventBus, logger *slog.Logger) *Outbox {
	return &Outbox{
		store:     store,
		publisher: publisher,
		logger:    logger.With("module", "outbox"),
	}
}

// Send stores the message and publishes MessageCreated. A failed publish is
// logged only: the message is already durable.
func (o *Outbox) Send(ctx context.Context, message *models.Message) error {
	if message.Metadata == nil {
		message.Metadata = make(map[string]any)
	}

	message.Metadata["origin"] = OriginWorkflow

	if message.Sender == "" {
		message.Sender = models.SenderWorkflow
	}

	err := o.store.SaveMessage(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	err = o.publisher.Publish(ctx, message.ConversationID, events.MessageCreated{
		BaseEvent: events.NewBaseEvent(o.publisher.GenerateID(), events.MessageCreatedEvent),
		Message:   message,
	})
	if err != nil {
		o.logger.WarnContext(ctx, "Failed to publish message created event",
			"conversation_id", message.ConversationID,
			"message_id", message.ID,
			"error", err,
		)
	}

	return nil
}
