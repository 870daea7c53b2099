package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/engageflow/pkg/codec"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/google/uuid"
)

// Transfer moves workflows between tenants through the portable document format.
type Transfer struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewTransfer(persistence persistence.Persistence, logger *slog.Logger) *Transfer {
	return &Transfer{
		persistence: persistence,
		logger:      logger.With("module", "transfer_service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Export renders a workflow of owner with the owner's triggers it relies on.
func (t *Transfer) Export(ctx context.Context, owner, id string) (*codec.Document, error) {
	workflow, err := t.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow.Owner != owner {
		return nil, persistence.NewWorkflowError("export", id, persistence.ErrWorkflowNotFound)
	}

	triggers := make([]*models.Trigger, 0)

	for _, eventType := range workflow.EventTypes() {
		trigger, err := t.persistence.TriggerRepository().GetByOwnerAndType(ctx, owner, eventType)
		if err != nil {
			if persistence.IsNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load trigger %s: %w", eventType, err)
		}

		triggers = append(triggers, trigger)
	}

	return codec.Export(workflow, triggers, t.now())
}

// Import stores raw as a new DRAFT workflow of owner. Triggers the owner
// lacks are created; existing ones are left untouched.
func (t *Transfer) Import(ctx context.Context, owner string, raw []byte) (*models.Workflow, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrEmptyOwnerID
	}

	doc, err := codec.Decode(raw)
	if err != nil {
		return nil, NewValidationError("import", "INVALID_DOCUMENT", err.Error(), err)
	}

	workflow, triggers, err := codec.Import(doc, owner, uuid.NewString)
	if err != nil {
		return nil, NewValidationError("import", "INVALID_DOCUMENT", err.Error(), err)
	}

	now := t.now()
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err = t.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to save imported workflow: %w", err)
	}

	for _, trigger := range triggers {
		_, err := t.persistence.TriggerRepository().GetByOwnerAndType(ctx, owner, trigger.TriggerType)
		if err == nil {
			continue
		}

		if !persistence.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load trigger %s: %w", trigger.TriggerType, err)
		}

		trigger.IsActive = false

		err = t.persistence.TriggerRepository().Save(ctx, trigger)
		if err != nil {
			return nil, fmt.Errorf("failed to save trigger %s: %w", trigger.TriggerType, err)
		}
	}

	t.logger.InfoContext(ctx, "Workflow imported",
		"workflow_id", workflow.ID,
		"owner", owner,
		"original_workflow_id", doc.ExportMetadata.OriginalWorkflowID)

	return workflow, nil
}
