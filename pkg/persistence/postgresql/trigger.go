package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/google/uuid"
)

const triggerColumns = `id, owner, trigger_type, name, is_active, config, created_at`

const associationColumns = `id, trigger_id, workflow_id, is_active, created_at`

// TriggerRepository handles triggers and their workflow associations.
type TriggerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTriggerRepository(db *sql.DB, logger *slog.Logger) *TriggerRepository {
	return &TriggerRepository{db: db, logger: logger}
}

func (r *TriggerRepository) Save(ctx context.Context, trigger *models.Trigger) error {
	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}

	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	configJSON, err := json.Marshal(trigger.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			is_active = EXCLUDED.is_active,
			config = EXCLUDED.config
	`,
		trigger.ID,
		trigger.Owner,
		trigger.TriggerType,
		trigger.Name,
		trigger.IsActive,
		configJSON,
		trigger.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger %s: %w", trigger.ID, err)
	}

	return nil
}

func (r *TriggerRepository) GetByOwnerAndType(ctx context.Context, owner string, triggerType models.EventType) (*models.Trigger, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+triggerColumns+`
		FROM triggers
		WHERE owner = $1 AND trigger_type = $2
		ORDER BY created_at
		LIMIT 1
	`, owner, triggerType)

	trigger, err := scanTrigger(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s/%s: %w", owner, triggerType, persistence.ErrTriggerNotFound)
		}

		return nil, fmt.Errorf("failed to scan trigger: %w", err)
	}

	return trigger, nil
}

func (r *TriggerRepository) ActiveByType(ctx context.Context, triggerType models.EventType) ([]*models.Trigger, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+triggerColumns+`
		FROM triggers
		WHERE trigger_type = $1 AND is_active
		ORDER BY created_at
	`, triggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to query triggers: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	triggers := make([]*models.Trigger, 0)

	for rows.Next() {
		trigger, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating triggers: %w", err)
	}

	return triggers, nil
}

func (r *TriggerRepository) SaveAssociation(ctx context.Context, association *models.TriggerWorkflowAssociation) error {
	if association.ID == "" {
		association.ID = uuid.NewString()
	}

	if association.CreatedAt.IsZero() {
		association.CreatedAt = time.Now().UTC()
	}

	// A (trigger, workflow) pair exists once; saving it again re-toggles it.
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO trigger_workflow_associations (`+associationColumns+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (trigger_id, workflow_id) DO UPDATE SET is_active = EXCLUDED.is_active
		RETURNING id
	`,
		association.ID,
		association.TriggerID,
		association.WorkflowID,
		association.IsActive,
		association.CreatedAt,
	).Scan(&association.ID)
	if err != nil {
		return fmt.Errorf("failed to save association: %w", err)
	}

	return nil
}

func (r *TriggerRepository) AssociationsByTrigger(ctx context.Context, triggerID string) ([]*models.TriggerWorkflowAssociation, error) {
	return r.associations(ctx, `WHERE trigger_id = $1`, triggerID)
}

func (r *TriggerRepository) AssociationsByWorkflow(ctx context.Context, workflowID string) ([]*models.TriggerWorkflowAssociation, error) {
	return r.associations(ctx, `WHERE workflow_id = $1`, workflowID)
}

func (r *TriggerRepository) SetAssociationsActive(ctx context.Context, workflowID string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE trigger_workflow_associations SET is_active = $2 WHERE workflow_id = $1`,
		workflowID, active,
	)
	if err != nil {
		return fmt.Errorf("failed to update associations of workflow %s: %w", workflowID, err)
	}

	return nil
}

func (r *TriggerRepository) DeleteAssociationsByWorkflow(ctx context.Context, workflowID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM trigger_workflow_associations WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete associations of workflow %s: %w", workflowID, err)
	}

	return nil
}

func (r *TriggerRepository) associations(ctx context.Context, where string, arg string) ([]*models.TriggerWorkflowAssociation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+associationColumns+`
		FROM trigger_workflow_associations
		`+where+`
		ORDER BY created_at
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	associations := make([]*models.TriggerWorkflowAssociation, 0)

	for rows.Next() {
		var association models.TriggerWorkflowAssociation

		err := rows.Scan(
			&association.ID,
			&association.TriggerID,
			&association.WorkflowID,
			&association.IsActive,
			&association.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}

		associations = append(associations, &association)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating associations: %w", err)
	}

	return associations, nil
}

func scanTrigger(scanner rowScanner) (*models.Trigger, error) {
	var (
		trigger    models.Trigger
		configJSON []byte
	)

	err := scanner.Scan(
		&trigger.ID,
		&trigger.Owner,
		&trigger.TriggerType,
		&trigger.Name,
		&trigger.IsActive,
		&configJSON,
		&trigger.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if configJSON != nil {
		err := json.Unmarshal(configJSON, &trigger.Config)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	return &trigger, nil
}
