// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates an active workflow owned by owner with default
// values that can be overridden.
func CreateTestWorkflow(owner string, overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()

	workflow := &models.Workflow{
		ID:          uuid.NewString(),
		Owner:       owner,
		Name:        "Test Workflow",
		Description: "Workflow used in tests",
		Status:      models.WorkflowStatusActive,
		Nodes:       make([]*models.Node, 0),
		Connections: make([]*models.Connection, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	for _, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID
	}

	return workflow
}

// WithGraph sets the nodes and connections of the workflow.
func WithGraph(nodes []*models.Node, connections ...*models.Connection) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Nodes = nodes
		w.Connections = connections
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithMaxExecutions caps the number of executions.
func WithMaxExecutions(maxExecutions int) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.MaxExecutions = maxExecutions
	}
}

// WithDelayBetweenExecutions sets the per-conversation cool-down.
func WithDelayBetweenExecutions(delay time.Duration) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.DelayBetweenExecutions = models.Duration(delay)
	}
}

// WhenNode creates an active when node for eventType.
func WhenNode(id string, eventType models.EventType, overrides ...func(*models.WhenConfig)) *models.Node {
	config := &models.WhenConfig{WhenType: eventType}

	for _, override := range overrides {
		override(config)
	}

	return &models.Node{ID: id, Type: models.NodeTypeWhen, Name: "When " + id, IsActive: true, When: config}
}

// WithKeywords restricts a when node to messages containing one of keywords.
func WithKeywords(keywords ...string) func(*models.WhenConfig) {
	return func(c *models.WhenConfig) {
		c.Keywords = keywords
	}
}

// WithTags restricts a when node to the given tags.
func WithTags(tags ...string) func(*models.WhenConfig) {
	return func(c *models.WhenConfig) {
		c.Tags = tags
	}
}

// WithSchedule sets the cron expression of a scheduled when node.
func WithSchedule(schedule string) func(*models.WhenConfig) {
	return func(c *models.WhenConfig) {
		c.Schedule = schedule
	}
}

// ConditionNode creates an active condition node.
func ConditionNode(id string, operator models.CombinationOperator, clauses ...models.Clause) *models.Node {
	return &models.Node{
		ID:       id,
		Type:     models.NodeTypeCondition,
		Name:     "Condition " + id,
		IsActive: true,
		Condition: &models.ConditionConfig{
			CombinationOperator: operator,
			Clauses:             clauses,
		},
	}
}

// ActionNode creates an active action node.
func ActionNode(id string, actionType models.ActionType, config map[string]any) *models.Node {
	return &models.Node{
		ID:       id,
		Type:     models.NodeTypeAction,
		Name:     "Action " + id,
		IsActive: true,
		Action:   &models.ActionConfig{ActionType: actionType, Config: config},
	}
}

// WaitingNode creates an active waiting node.
func WaitingNode(id string, config models.WaitingConfig) *models.Node {
	return &models.Node{
		ID:       id,
		Type:     models.NodeTypeWaiting,
		Name:     "Waiting " + id,
		IsActive: true,
		Waiting:  &config,
	}
}

// Connect creates a connection between two nodes.
func Connect(source, target string, connectionType models.ConnectionType) *models.Connection {
	return &models.Connection{
		ID:             source + "->" + target + ":" + string(connectionType),
		SourceNodeID:   source,
		TargetNodeID:   target,
		ConnectionType: connectionType,
	}
}

// ConnectOnClause creates a success connection selected by an OR clause.
func ConnectOnClause(source, target, clauseID string) *models.Connection {
	connection := Connect(source, target, models.ConnectionTypeSuccess)
	connection.ID += ":" + clauseID
	connection.Condition = clauseID

	return connection
}

// MessageEvent creates a message_received event for a conversation.
func MessageEvent(conversationID, content string) *models.EventLog {
	return &models.EventLog{
		EventID:        uuid.NewString(),
		EventType:      models.EventMessageReceived,
		ConversationID: conversationID,
		Data:           map[string]any{"content": content},
		CreatedAt:      time.Now().UTC(),
	}
}
