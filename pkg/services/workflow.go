package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/engageflow/pkg/eventbus"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrWorkflowNotFound is returned when a workflow is not found.
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

// DefaultExecutionsLimit bounds execution listings without an explicit limit.
const DefaultExecutionsLimit = 50

type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	publisher   eventbus.EventBus
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. publisher may be nil.
func NewWorkflow(persistence persistence.Persistence, registry *registry.Registry, publisher eventbus.EventBus, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    registry,
		publisher:   publisher,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListByOwner returns the tenant's workflows.
func (w *Workflow) ListByOwner(ctx context.Context, owner string) ([]*models.Workflow, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrEmptyOwnerID
	}

	workflows, err := w.persistence.WorkflowRepository().ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow of owner. Workflows of other tenants are
// reported as not found.
func (w *Workflow) FetchByID(ctx context.Context, owner, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil || workflow.Owner != owner {
		return nil, persistence.NewWorkflowError("fetch", id, ErrWorkflowNotFound)
	}

	return workflow, nil
}

// Create adds a new DRAFT workflow owned by owner.
func (w *Workflow) Create(ctx context.Context, owner string, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, ErrEmptyOwnerID
	}

	now := time.Now().UTC()
	workflow.ID = uuid.NewString()
	workflow.Owner = owner
	workflow.Status = models.WorkflowStatusDraft
	workflow.ExecutionCount = 0
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := w.check("create", workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "owner", owner)

	return workflow, nil
}

// UpdateGraph replaces the editable fields of a draft or paused workflow.
func (w *Workflow) UpdateGraph(ctx context.Context, owner, id string, update *models.Workflow) (*models.Workflow, error) {
	if update == nil {
		return nil, ErrWorkflowNil
	}

	existing, err := w.FetchByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if existing.Status != models.WorkflowStatusDraft && existing.Status != models.WorkflowStatusPaused {
		return nil, NewConflictError("updateGraph", "WORKFLOW_NOT_EDITABLE",
			fmt.Sprintf("workflow is %s", existing.Status), ErrWorkflowNotEditable)
	}

	existing.Name = update.Name
	existing.Description = update.Description
	existing.Layout = update.Layout
	existing.MaxExecutions = update.MaxExecutions
	existing.DelayBetweenExecutions = update.DelayBetweenExecutions
	existing.StartDate = update.StartDate
	existing.EndDate = update.EndDate
	existing.Metadata = update.Metadata
	existing.Nodes = update.Nodes
	existing.Connections = update.Connections
	existing.UpdatedAt = time.Now().UTC()

	err = w.check("updateGraph", existing)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return existing, nil
}

// check applies the structural rules every stored workflow satisfies. The
// full graph rules are only enforced on activation.
func (w *Workflow) check(op string, workflow *models.Workflow) error {
	if strings.TrimSpace(workflow.Name) == "" {
		return NewValidationError(op, "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	err := w.validate.Struct(workflow)
	if err != nil {
		return NewValidationError(op, "INVALID_WORKFLOW", err.Error(), ErrInvalidRequest)
	}

	for _, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID

		err := node.Validate()
		if err != nil {
			return NewValidationError(op, "INVALID_NODE", err.Error(), ErrInvalidNode)
		}
	}

	if workflow.Nodes == nil {
		workflow.Nodes = make([]*models.Node, 0)
	}

	if workflow.Connections == nil {
		workflow.Connections = make([]*models.Connection, 0)
	}

	for _, connection := range workflow.Connections {
		if connection.ID == "" {
			connection.ID = uuid.NewString()
		}
	}

	return nil
}

// Activate validates the graph, links the workflow to its owner's triggers
// and makes it matchable.
func (w *Workflow) Activate(ctx context.Context, owner, id string) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusDraft && workflow.Status != models.WorkflowStatusPaused {
		return nil, NewConflictError("activate", "INVALID_TRANSITION",
			fmt.Sprintf("cannot activate a %s workflow", workflow.Status), ErrInvalidTransition)
	}

	err = ValidateGraph(workflow, w.registry)
	if err != nil {
		return nil, NewValidationError("activate", "INVALID_GRAPH", err.Error(), err)
	}

	err = w.link(ctx, workflow)
	if err != nil {
		return nil, err
	}

	workflow.Status = models.WorkflowStatusActive
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow activated", "workflow_id", workflow.ID, "owner", owner)
	w.announce(ctx, workflow.ID, events.WorkflowActivated{
		BaseEvent:  events.NewBaseEvent(w.generateID(), events.WorkflowActivatedEvent),
		WorkflowID: workflow.ID,
		Owner:      workflow.Owner,
	})

	return workflow, nil
}

// link rebuilds the trigger associations of workflow, creating the owner's
// triggers on first use.
func (w *Workflow) link(ctx context.Context, workflow *models.Workflow) error {
	triggers := w.persistence.TriggerRepository()

	err := triggers.DeleteAssociationsByWorkflow(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to reset associations: %w", err)
	}

	for _, eventType := range workflow.EventTypes() {
		trigger, err := w.ensureTrigger(ctx, workflow.Owner, eventType)
		if err != nil {
			return err
		}

		err = triggers.SaveAssociation(ctx, &models.TriggerWorkflowAssociation{
			TriggerID:  trigger.ID,
			WorkflowID: workflow.ID,
			IsActive:   true,
		})
		if err != nil {
			return fmt.Errorf("failed to associate trigger %s: %w", trigger.ID, err)
		}
	}

	return nil
}

func (w *Workflow) ensureTrigger(ctx context.Context, owner string, eventType models.EventType) (*models.Trigger, error) {
	triggers := w.persistence.TriggerRepository()

	trigger, err := triggers.GetByOwnerAndType(ctx, owner, eventType)
	if err == nil {
		if !trigger.IsActive {
			trigger.IsActive = true

			err = triggers.Save(ctx, trigger)
			if err != nil {
				return nil, fmt.Errorf("failed to enable trigger: %w", err)
			}
		}

		return trigger, nil
	}

	if !persistence.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load trigger: %w", err)
	}

	trigger = &models.Trigger{
		Owner:       owner,
		TriggerType: eventType,
		Name:        string(eventType),
		IsActive:    true,
	}

	err = triggers.Save(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("failed to create trigger: %w", err)
	}

	return trigger, nil
}

// Pause stops matching an active workflow. Suspended executions continue.
func (w *Workflow) Pause(ctx context.Context, owner, id string) (*models.Workflow, error) {
	return w.deactivate(ctx, owner, id, models.WorkflowStatusPaused)
}

// Archive retires a workflow for good.
func (w *Workflow) Archive(ctx context.Context, owner, id string) (*models.Workflow, error) {
	return w.deactivate(ctx, owner, id, models.WorkflowStatusArchived)
}

func (w *Workflow) deactivate(ctx context.Context, owner, id string, status models.WorkflowStatus) (*models.Workflow, error) {
	workflow, err := w.FetchByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	allowed := workflow.Status == models.WorkflowStatusActive ||
		(status == models.WorkflowStatusArchived && workflow.Status != models.WorkflowStatusArchived)
	if !allowed {
		return nil, NewConflictError(string(status), "INVALID_TRANSITION",
			fmt.Sprintf("cannot move a %s workflow to %s", workflow.Status, status), ErrInvalidTransition)
	}

	err = w.persistence.TriggerRepository().SetAssociationsActive(ctx, workflow.ID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to disable associations: %w", err)
	}

	workflow.Status = status
	workflow.UpdatedAt = time.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow status: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow deactivated", "workflow_id", workflow.ID, "status", status)
	w.announce(ctx, workflow.ID, events.WorkflowDeactivated{
		BaseEvent:  events.NewBaseEvent(w.generateID(), events.WorkflowDeactivatedEvent),
		WorkflowID: workflow.ID,
		Status:     status,
	})

	return workflow, nil
}

// Delete removes a workflow with its trigger associations.
func (w *Workflow) Delete(ctx context.Context, owner, id string) error {
	workflow, err := w.FetchByID(ctx, owner, id)
	if err != nil {
		return err
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	if workflow.Status == models.WorkflowStatusActive {
		w.announce(ctx, workflow.ID, events.WorkflowDeactivated{
			BaseEvent:  events.NewBaseEvent(w.generateID(), events.WorkflowDeactivatedEvent),
			WorkflowID: workflow.ID,
			Status:     models.WorkflowStatusArchived,
		})
	}

	return nil
}

// Executions lists the most recent executions of a workflow.
func (w *Workflow) Executions(ctx context.Context, owner, id string, limit int) ([]*models.WorkflowExecution, error) {
	workflow, err := w.FetchByID(ctx, owner, id)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > DefaultExecutionsLimit {
		limit = DefaultExecutionsLimit
	}

	executions, err := w.persistence.ExecutionRepository().ListByWorkflow(ctx, workflow.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Execution returns one execution of owner.
func (w *Workflow) Execution(ctx context.Context, owner, id string) (*models.WorkflowExecution, error) {
	execution, err := w.persistence.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if execution.Owner != owner {
		return nil, persistence.NewExecutionError("fetch", id, "", persistence.ErrExecutionNotFound)
	}

	return execution, nil
}

func (w *Workflow) generateID() string {
	if w.publisher == nil {
		return uuid.NewString()
	}

	return w.publisher.GenerateID()
}

func (w *Workflow) announce(ctx context.Context, key string, event eventbus.Event) {
	if w.publisher == nil {
		return
	}

	err := w.publisher.Publish(ctx, key, event)
	if err != nil {
		w.logger.WarnContext(ctx, "Failed to publish workflow event",
			"workflow_id", key,
			"event_type", event.GetType(),
			"error", err)
	}
}
