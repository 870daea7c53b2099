package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *store
}

// GetAll returns every workflow, newest first.
func (wr *WorkflowRepository) GetAll(_ context.Context) ([]*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	workflows, err := readAll[models.Workflow](wr.store, workflowsDir)
	if err != nil {
		return nil, err
	}

	sortWorkflows(workflows)

	return workflows, nil
}

func (wr *WorkflowRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Workflow, error) {
	workflows, err := wr.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	owned := make([]*models.Workflow, 0)

	for _, workflow := range workflows {
		if workflow.Owner == owner {
			owned = append(owned, workflow)
		}
	}

	return owned, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*models.Workflow, error) {
	wr.store.mu.RLock()
	defer wr.store.mu.RUnlock()

	return wr.get(workflowID)
}

func (wr *WorkflowRepository) get(workflowID string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := wr.store.read(workflowsDir, workflowID, &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, err)
	}

	if !found {
		return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

// Save saves a workflow to the file system.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	// The execution count belongs to ReserveExecution; a save never rewinds it.
	var existing models.Workflow

	found, err := wr.store.read(workflowsDir, workflow.ID, &existing)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if found {
		workflow.ExecutionCount = existing.ExecutionCount
	}

	err = wr.store.write(workflowsDir, workflow.ID, workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete removes the workflow file and every association pointing at it.
func (wr *WorkflowRepository) Delete(_ context.Context, workflowID string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	err := deleteAssociations(wr.store, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	err = wr.store.remove(workflowsDir, workflowID)
	if err != nil {
		return persistence.NewWorkflowError("Delete", workflowID, err)
	}

	return nil
}

func (wr *WorkflowRepository) ReserveExecution(_ context.Context, workflowID string) (bool, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	workflow, err := wr.get(workflowID)
	if err != nil {
		return false, err
	}

	if !workflow.BelowLimit() {
		return false, nil
	}

	workflow.ExecutionCount++

	err = wr.store.write(workflowsDir, workflow.ID, workflow)
	if err != nil {
		return false, persistence.NewWorkflowError("ReserveExecution", workflowID, err)
	}

	return true, nil
}

func (wr *WorkflowRepository) ReleaseExecution(_ context.Context, workflowID string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	workflow, err := wr.get(workflowID)
	if err != nil {
		return err
	}

	if workflow.ExecutionCount == 0 {
		return nil
	}

	workflow.ExecutionCount--

	err = wr.store.write(workflowsDir, workflow.ID, workflow)
	if err != nil {
		return persistence.NewWorkflowError("ReleaseExecution", workflowID, err)
	}

	return nil
}

func sortWorkflows(workflows []*models.Workflow) {
	sort.SliceStable(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
}
