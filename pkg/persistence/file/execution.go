package file

import (
	"context"
	"sort"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository handles workflow executions on disk.
type ExecutionRepository struct {
	store *store
}

func (er *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	executions, err := readAll[models.WorkflowExecution](er.store, executionsDir)
	if err != nil {
		return err
	}

	for _, existing := range executions {
		if existing.WorkflowID == execution.WorkflowID && existing.TriggeringEventID == execution.TriggeringEventID {
			return persistence.NewExecutionError("Create", "", execution.WorkflowID, persistence.ErrExecutionExists)
		}
	}

	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}

	return er.store.write(executionsDir, execution.ID, execution)
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.WorkflowExecution) error {
	er.store.mu.Lock()
	defer er.store.mu.Unlock()

	err := er.store.write(executionsDir, execution.ID, execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, execution.WorkflowID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, executionID string) (*models.WorkflowExecution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	var execution models.WorkflowExecution

	found, err := er.store.read(executionsDir, executionID, &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", executionID, "", err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", executionID, "", persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	executions, err := er.filter(func(e *models.WorkflowExecution) bool {
		return e.WorkflowID == workflowID
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	if limit > 0 && len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (er *ExecutionRepository) LastStartedAt(_ context.Context, workflowID, conversationID string) (*time.Time, error) {
	executions, err := er.filter(func(e *models.WorkflowExecution) bool {
		return e.WorkflowID == workflowID && e.ConversationID == conversationID
	})
	if err != nil {
		return nil, err
	}

	var last *time.Time

	for _, execution := range executions {
		if last == nil || execution.StartedAt.After(*last) {
			startedAt := execution.StartedAt
			last = &startedAt
		}
	}

	return last, nil
}

func (er *ExecutionRepository) FindWaiting(_ context.Context, conversationID string) ([]*models.WorkflowExecution, error) {
	executions, err := er.filter(func(e *models.WorkflowExecution) bool {
		return e.ConversationID == conversationID &&
			e.Status == models.ExecutionStatusRunning &&
			len(e.WaitingContinuations()) > 0
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(executions, func(i, j int) bool {
		return executions[i].StartedAt.Before(executions[j].StartedAt)
	})

	return executions, nil
}

func (er *ExecutionRepository) filter(keep func(*models.WorkflowExecution) bool) ([]*models.WorkflowExecution, error) {
	er.store.mu.RLock()
	defer er.store.mu.RUnlock()

	executions, err := readAll[models.WorkflowExecution](er.store, executionsDir)
	if err != nil {
		return nil, err
	}

	kept := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if keep(execution) {
			kept = append(kept, execution)
		}
	}

	return kept, nil
}
