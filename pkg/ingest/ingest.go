// Package ingest validates, deduplicates and logs incoming events, then hands
// them to the workers through the event bus.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/eventbus"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

// Event is an event as offered by the message and account subsystems.
type Event struct {
	EventID        string           `json:"event_id"        validate:"required,max=255"`
	EventType      models.EventType `json:"event_type"      validate:"required,oneof=message_received message_sent tag_added tag_removed user_created conversation_created conversation_status_changed scheduled_tick"`
	UserID         string           `json:"user_id"`
	TenantID       string           `json:"tenant_id"`
	ConversationID string           `json:"conversation_id"`
	Data           map[string]any   `json:"data"`
}

// DuplicateError reports an event id that was already ingested.
type DuplicateError struct {
	EventID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("event %s was already ingested", e.EventID)
}

func (e *DuplicateError) Unwrap() error {
	return persistence.ErrDuplicateEvent
}

// IsDuplicate checks if an error reports an already ingested event.
func IsDuplicate(err error) bool {
	var duplicate *DuplicateError

	return errors.As(err, &duplicate) || errors.Is(err, persistence.ErrDuplicateEvent)
}

// Deduplicator is the fast-path duplicate filter in front of the event log.
type Deduplicator interface {
	// Seen records eventID and reports whether it was already recorded.
	Seen(ctx context.Context, eventID string) (bool, error)
	// Forget drops eventID so a failed ingestion can be retried.
	Forget(ctx context.Context, eventID string) error
}

type Ingestor struct {
	repository persistence.EventLogRepository
	dedup      Deduplicator
	bus        eventbus.EventBus
	validate   *validator.Validate
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func NewIngestor(
	repository persistence.EventLogRepository,
	dedup Deduplicator,
	bus eventbus.EventBus,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Ingestor {
	return &Ingestor{
		repository: repository,
		dedup:      dedup,
		bus:        bus,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		metrics:    collector,
		logger:     logger.With("module", "ingest"),
	}
}

// Ingest logs the event exactly once and publishes it for matching, keyed by
// its ordering key so a conversation's events keep their arrival order.
func (i *Ingestor) Ingest(ctx context.Context, event Event) (*models.EventLog, error) {
	err := i.validate.Struct(event)
	if err != nil {
		i.metrics.EventIngested("invalid")

		return nil, err
	}

	logger := i.logger.With("event_id", event.EventID, "event_type", event.EventType)

	if i.dedup != nil {
		seen, err := i.dedup.Seen(ctx, event.EventID)
		if err != nil {
			logger.WarnContext(ctx, "Deduplication window unavailable, relying on the event log", "error", err)
		} else if seen {
			i.metrics.EventIngested("duplicate")
			logger.InfoContext(ctx, "Duplicate event discarded")

			return nil, &DuplicateError{EventID: event.EventID}
		}
	}

	data := event.Data
	if data == nil {
		data = make(map[string]any)
	}

	eventLog := &models.EventLog{
		EventID:        event.EventID,
		EventType:      event.EventType,
		UserID:         event.UserID,
		TenantID:       event.TenantID,
		ConversationID: event.ConversationID,
		Data:           data,
		CreatedAt:      time.Now().UTC(),
	}

	err = i.repository.Append(ctx, eventLog)
	if err != nil {
		if !persistence.IsDuplicateEvent(err) {
			i.forget(ctx, logger, event.EventID)
			i.metrics.EventIngested("error")

			return nil, fmt.Errorf("failed to append event %s: %w", event.EventID, err)
		}

		stored, getErr := i.repository.GetByID(ctx, event.EventID)
		if getErr != nil {
			i.forget(ctx, logger, event.EventID)
			i.metrics.EventIngested("error")

			return nil, fmt.Errorf("failed to load logged event %s: %w", event.EventID, getErr)
		}

		if stored.PublishedAt != nil {
			i.metrics.EventIngested("duplicate")
			logger.InfoContext(ctx, "Duplicate event discarded by the event log")

			return nil, &DuplicateError{EventID: event.EventID}
		}

		logger.InfoContext(ctx, "Re-publishing a logged event that never reached the bus")

		eventLog = stored
	}

	return i.publish(ctx, logger, eventLog)
}

// publish hands a logged event to the bus. On failure the dedup key is
// released so a redelivery of the same id publishes it again.
func (i *Ingestor) publish(ctx context.Context, logger *slog.Logger, eventLog *models.EventLog) (*models.EventLog, error) {
	err := i.bus.Publish(ctx, eventLog.OrderingKey(), events.EventLogged{
		BaseEvent: events.NewBaseEvent(i.bus.GenerateID(), events.EventLoggedEvent),
		EventLog:  eventLog,
	})
	if err != nil {
		i.forget(ctx, logger, eventLog.EventID)
		i.metrics.EventIngested("error")

		return nil, fmt.Errorf("failed to publish event %s: %w", eventLog.EventID, err)
	}

	// A lost marker only costs a second publish; executions are keyed by event id.
	err = i.repository.MarkPublished(ctx, eventLog.EventID, time.Now().UTC())
	if err != nil {
		logger.WarnContext(ctx, "Failed to mark event published", "error", err)
	}

	i.metrics.EventIngested("accepted")
	logger.DebugContext(ctx, "Event ingested", "conversation_id", eventLog.ConversationID)

	return eventLog, nil
}

func (i *Ingestor) forget(ctx context.Context, logger *slog.Logger, eventID string) {
	if i.dedup == nil {
		return
	}

	err := i.dedup.Forget(ctx, eventID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to release deduplication key", "error", err)
	}
}
