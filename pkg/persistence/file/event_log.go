package file

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
)

// EventLogRepository keeps one immutable document per event id.
type EventLogRepository struct {
	store *store
}

func (er *EventLogRepository) Append(_ context.Context, event *models.EventLog) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	exists, err := er.store.exists(eventsDir, event.EventID)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("event %s: %w", event.EventID, persistence.ErrDuplicateEvent)
	}

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	return er.store.write(eventsDir, event.EventID, event)
}

func (er *EventLogRepository) GetByID(_ context.Context, eventID string) (*models.EventLog, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	var event models.EventLog

	found, err := er.store.read(eventsDir, eventID, &event)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, fmt.Errorf("event %s: %w", eventID, persistence.ErrEventNotFound)
	}

	return &event, nil
}

func (er *EventLogRepository) MarkPublished(_ context.Context, eventID string, at time.Time) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	var event models.EventLog

	found, err := er.store.read(eventsDir, eventID, &event)
	if err != nil {
		return err
	}

	if !found {
		return fmt.Errorf("event %s: %w", eventID, persistence.ErrEventNotFound)
	}

	published := at.UTC()
	event.PublishedAt = &published

	return er.store.write(eventsDir, eventID, &event)
}
