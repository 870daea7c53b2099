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

const workflowColumns = `
	id
  , owner
  , name
  , description
  , status
  , layout
  , max_executions
  , delay_between_executions_ms
  , start_date
  , end_date
  , execution_count
  , metadata
  , created_at
  , updated_at
`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at DESC`)
}

func (r *WorkflowRepository) ListByOwner(ctx context.Context, owner string) ([]*models.Workflow, error) {
	return r.query(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE owner = $1 ORDER BY created_at DESC`, owner)
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	err = r.loadGraph(ctx, workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save upserts the workflow and replaces its graph in one transaction.
// The execution count of an existing row is left untouched.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	layoutJSON, err := json.Marshal(workflow.Layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	metadataJSON, err := json.Marshal(workflow.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			layout = EXCLUDED.layout,
			max_executions = EXCLUDED.max_executions,
			delay_between_executions_ms = EXCLUDED.delay_between_executions_ms,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`,
		workflow.ID,
		workflow.Owner,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		layoutJSON,
		workflow.MaxExecutions,
		workflow.DelayBetweenExecutions.Std().Milliseconds(),
		workflow.StartDate,
		workflow.EndDate,
		workflow.ExecutionCount,
		metadataJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_connections WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing connections: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	err = r.saveNodes(ctx, tx, workflow)
	if err != nil {
		return fmt.Errorf("failed to save workflow nodes: %w", err)
	}

	err = r.saveConnections(ctx, tx, workflow)
	if err != nil {
		return fmt.Errorf("failed to save workflow connections: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete removes the workflow; nodes, connections and associations cascade.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (r *WorkflowRepository) ReserveExecution(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET execution_count = execution_count + 1
		WHERE id = $1 AND (max_executions <= 0 OR execution_count < max_executions)
	`, id)
	if err != nil {
		return false, persistence.NewWorkflowError("ReserveExecution", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 1 {
		return true, nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflows WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, persistence.NewWorkflowError("ReserveExecution", id, err)
	}

	if !exists {
		return false, persistence.NewWorkflowError("ReserveExecution", id, persistence.ErrWorkflowNotFound)
	}

	return false, nil
}

func (r *WorkflowRepository) ReleaseExecution(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflows
		SET execution_count = GREATEST(execution_count - 1, 0)
		WHERE id = $1
	`, id)
	if err != nil {
		return persistence.NewWorkflowError("ReleaseExecution", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("ReleaseExecution", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		err := r.loadGraph(ctx, workflow)
		if err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

func (r *WorkflowRepository) loadGraph(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := r.loadNodes(ctx, workflow.ID)
	if err != nil {
		return err
	}

	connections, err := r.loadConnections(ctx, workflow.ID)
	if err != nil {
		return err
	}

	workflow.Nodes = nodes
	workflow.Connections = connections

	return nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflowID string) ([]*models.Node, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, name, position_x, position_y, is_active, config
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY sort_order
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	nodes := make([]*models.Node, 0)

	for rows.Next() {
		var (
			node       models.Node
			configJSON []byte
		)

		err := rows.Scan(&node.ID, &node.Type, &node.Name, &node.PositionX, &node.PositionY, &node.IsActive, &configJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		node.WorkflowID = workflowID

		err = decodeNodeConfig(&node, configJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal configuration of node %s: %w", node.ID, err)
		}

		nodes = append(nodes, &node)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}

func (r *WorkflowRepository) loadConnections(ctx context.Context, workflowID string) ([]*models.Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_node_id, target_node_id, connection_type, condition_id
		FROM workflow_connections
		WHERE workflow_id = $1
		ORDER BY sort_order
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow connections: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	connections := make([]*models.Connection, 0)

	for rows.Next() {
		var connection models.Connection

		err := rows.Scan(
			&connection.ID,
			&connection.SourceNodeID,
			&connection.TargetNodeID,
			&connection.ConnectionType,
			&connection.Condition,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}

		connections = append(connections, &connection)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return connections, nil
}

func (r *WorkflowRepository) saveNodes(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	for position, node := range workflow.Nodes {
		configJSON, err := encodeNodeConfig(node)
		if err != nil {
			return fmt.Errorf("failed to marshal configuration of node %s: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_nodes (workflow_id, id, node_type, name, position_x, position_y, is_active, config, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			workflow.ID,
			node.ID,
			node.Type,
			node.Name,
			node.PositionX,
			node.PositionY,
			node.IsActive,
			configJSON,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) saveConnections(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	for position, connection := range workflow.Connections {
		if connection.ID == "" {
			connection.ID = uuid.NewString()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflow_connections (workflow_id, id, source_node_id, target_node_id, connection_type, condition_id, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			workflow.ID,
			connection.ID,
			connection.SourceNodeID,
			connection.TargetNodeID,
			connection.ConnectionType,
			connection.Condition,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", connection.ID, err)
		}
	}

	return nil
}

// encodeNodeConfig stores only the payload of the node's own variant.
func encodeNodeConfig(node *models.Node) ([]byte, error) {
	var payload any

	switch node.Type {
	case models.NodeTypeWhen:
		payload = node.When
	case models.NodeTypeCondition:
		payload = node.Condition
	case models.NodeTypeAction:
		payload = node.Action
	case models.NodeTypeWaiting:
		payload = node.Waiting
	default:
		return nil, fmt.Errorf("unknown node type %q", node.Type)
	}

	if payload == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(payload)
}

func decodeNodeConfig(node *models.Node, data []byte) error {
	switch node.Type {
	case models.NodeTypeWhen:
		node.When = &models.WhenConfig{}

		return json.Unmarshal(data, node.When)
	case models.NodeTypeCondition:
		node.Condition = &models.ConditionConfig{}

		return json.Unmarshal(data, node.Condition)
	case models.NodeTypeAction:
		node.Action = &models.ActionConfig{}

		return json.Unmarshal(data, node.Action)
	case models.NodeTypeWaiting:
		node.Waiting = &models.WaitingConfig{}

		return json.Unmarshal(data, node.Waiting)
	default:
		return fmt.Errorf("unknown node type %q", node.Type)
	}
}

func scanWorkflow(scanner rowScanner) (*models.Workflow, error) {
	var (
		workflow                 models.Workflow
		layoutJSON, metadataJSON []byte
		delayMs                  int64
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.Owner,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&layoutJSON,
		&workflow.MaxExecutions,
		&delayMs,
		&workflow.StartDate,
		&workflow.EndDate,
		&workflow.ExecutionCount,
		&metadataJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.DelayBetweenExecutions = models.Duration(time.Duration(delayMs) * time.Millisecond)

	if layoutJSON != nil {
		err := json.Unmarshal(layoutJSON, &workflow.Layout)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal layout: %w", err)
		}
	}

	if metadataJSON != nil {
		err := json.Unmarshal(metadataJSON, &workflow.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	return &workflow, nil
}
