package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
)

// EventLogRepository appends to the immutable event log; the primary key on
// event_id is the durable idempotency check.
type EventLogRepository struct {
	db *sql.DB
}

func NewEventLogRepository(db *sql.DB) *EventLogRepository {
	return &EventLogRepository{db: db}
}

func (r *EventLogRepository) Append(ctx context.Context, event *models.EventLog) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO event_logs (event_id, event_type, user_id, tenant_id, conversation_id, data, created_at, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		event.EventID,
		event.EventType,
		event.UserID,
		event.TenantID,
		event.ConversationID,
		dataJSON,
		event.CreatedAt,
		event.PublishedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", event.EventID, persistence.ErrDuplicateEvent)
		}

		return fmt.Errorf("failed to append event %s: %w", event.EventID, err)
	}

	return nil
}

func (r *EventLogRepository) GetByID(ctx context.Context, eventID string) (*models.EventLog, error) {
	var (
		event       models.EventLog
		dataJSON    []byte
		publishedAt sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT event_id, event_type, user_id, tenant_id, conversation_id, data, created_at, published_at
		FROM event_logs
		WHERE event_id = $1
	`, eventID).Scan(
		&event.EventID,
		&event.EventType,
		&event.UserID,
		&event.TenantID,
		&event.ConversationID,
		&dataJSON,
		&event.CreatedAt,
		&publishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", eventID, persistence.ErrEventNotFound)
		}

		return nil, fmt.Errorf("failed to load event %s: %w", eventID, err)
	}

	if publishedAt.Valid {
		published := publishedAt.Time.UTC()
		event.PublishedAt = &published
	}

	if dataJSON != nil {
		err := json.Unmarshal(dataJSON, &event.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
	}

	return &event, nil
}

func (r *EventLogRepository) MarkPublished(ctx context.Context, eventID string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE event_logs SET published_at = $2 WHERE event_id = $1
	`, eventID, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark event %s published: %w", eventID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark event %s published: %w", eventID, err)
	}

	if rows == 0 {
		return fmt.Errorf("event %s: %w", eventID, persistence.ErrEventNotFound)
	}

	return nil
}
