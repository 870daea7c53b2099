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

const executionColumns = `
	id
  , workflow_id
  , triggering_event_id
  , conversation_id
  , owner
  , status
  , context
  , results
  , continuations
  , error_message
  , started_at
  , finished_at
`

// ExecutionRepository handles workflow executions.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		execution.ID = uuid.NewString()
	}

	if execution.StartedAt.IsZero() {
		execution.StartedAt = time.Now().UTC()
	}

	args, err := executionArgs(execution)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, execution.WorkflowID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("Create", "", execution.WorkflowID, persistence.ErrExecutionExists)
		}

		return persistence.NewExecutionError("Create", execution.ID, execution.WorkflowID, err)
	}

	return nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.WorkflowExecution) error {
	args, err := executionArgs(execution)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, execution.WorkflowID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			context = EXCLUDED.context,
			results = EXCLUDED.results,
			continuations = EXCLUDED.continuations,
			error_message = EXCLUDED.error_message,
			finished_at = EXCLUDED.finished_at
	`, args...)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, execution.WorkflowID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, "", persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, "", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	if limit <= 0 {
		limit = 100
	}

	return r.query(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, workflowID, limit)
}

func (r *ExecutionRepository) LastStartedAt(ctx context.Context, workflowID, conversationID string) (*time.Time, error) {
	var last sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(started_at)
		FROM workflow_executions
		WHERE workflow_id = $1 AND conversation_id = $2
	`, workflowID, conversationID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to query last execution of workflow %s: %w", workflowID, err)
	}

	if !last.Valid {
		return nil, nil
	}

	return &last.Time, nil
}

func (r *ExecutionRepository) FindWaiting(ctx context.Context, conversationID string) ([]*models.WorkflowExecution, error) {
	return r.query(ctx, `
		SELECT `+executionColumns+`
		FROM workflow_executions
		WHERE conversation_id = $1
		  AND status = $2
		  AND continuations @> '[{"kind": "waiting"}]'::jsonb
		ORDER BY started_at
	`, conversationID, models.ExecutionStatusRunning)
}

func (r *ExecutionRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowExecution, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func executionArgs(execution *models.WorkflowExecution) ([]any, error) {
	contextJSON, err := json.Marshal(execution.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution context: %w", err)
	}

	results := execution.Results
	if results == nil {
		results = make([]models.NodeResult, 0)
	}

	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node results: %w", err)
	}

	continuations := execution.Continuations
	if continuations == nil {
		continuations = make([]models.Continuation, 0)
	}

	continuationsJSON, err := json.Marshal(continuations)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal continuations: %w", err)
	}

	return []any{
		execution.ID,
		execution.WorkflowID,
		execution.TriggeringEventID,
		execution.ConversationID,
		execution.Owner,
		execution.Status,
		contextJSON,
		resultsJSON,
		continuationsJSON,
		execution.ErrorMessage,
		execution.StartedAt,
		execution.FinishedAt,
	}, nil
}

func scanExecution(scanner rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution                                   models.WorkflowExecution
		contextJSON, resultsJSON, continuationsJSON []byte
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TriggeringEventID,
		&execution.ConversationID,
		&execution.Owner,
		&execution.Status,
		&contextJSON,
		&resultsJSON,
		&continuationsJSON,
		&execution.ErrorMessage,
		&execution.StartedAt,
		&execution.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(contextJSON, &execution.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
	}

	err = json.Unmarshal(resultsJSON, &execution.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal node results: %w", err)
	}

	err = json.Unmarshal(continuationsJSON, &execution.Continuations)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal continuations: %w", err)
	}

	return &execution, nil
}
