package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/dukex/engageflow/pkg/conditions"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/persistence/file"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/dukex/engageflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lateExecutions misses an execution another worker is creating at the same
// moment: the lookup finds nothing, the insert then collides.
type lateExecutions struct {
	persistence.ExecutionRepository
}

func (lateExecutions) GetByID(_ context.Context, executionID string) (*models.WorkflowExecution, error) {
	return nil, fmt.Errorf("execution %s: %w", executionID, persistence.ErrExecutionNotFound)
}

type racingPersistence struct {
	*file.Persistence
}

func (p racingPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return lateExecutions{p.Persistence.ExecutionRepository()}
}

func TestExecutor_ConcurrentDuplicateReleasesSlot(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()
	store := file.NewPersistence(t.TempDir())

	workflow := testutil.CreateTestWorkflow("tenant-a",
		testutil.WithMaxExecutions(1),
		testutil.WithGraph([]*models.Node{testutil.WhenNode("start", models.EventMessageReceived)}))
	require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))

	event := testutil.MessageEvent("conv-1", "hello")
	require.NoError(t, store.ExecutionRepository().Create(ctx, &models.WorkflowExecution{
		ID:                ExecutionID(workflow.ID, event.EventID),
		WorkflowID:        workflow.ID,
		TriggeringEventID: event.EventID,
		ConversationID:    event.ConversationID,
		Owner:             workflow.Owner,
		Status:            models.ExecutionStatusRunning,
		StartedAt:         event.CreatedAt,
	}))

	executor := NewExecutor(racingPersistence{store}, registry.NewRegistry(logger), conditions.NewEvaluator(logger), nil, nil, logger)

	execution, err := executor.Start(ctx, Candidate{Workflow: workflow, WhenNodes: workflow.Nodes}, event)
	require.NoError(t, err)
	assert.Nil(t, execution)

	loaded, err := store.WorkflowRepository().GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.ExecutionCount)

	reserved, err := store.WorkflowRepository().ReserveExecution(ctx, workflow.ID)
	require.NoError(t, err)
	assert.True(t, reserved)
}
