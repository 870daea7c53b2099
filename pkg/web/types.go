// Package web provides HTTP request and response types for the workflow API.
package web

import (
	"time"

	"github.com/dukex/engageflow/pkg/ingest"
	"github.com/dukex/engageflow/pkg/models"
)

// TenantHeader carries the caller's tenant id. Authentication happens upstream.
const TenantHeader = "X-Tenant-ID"

// IngestEventRequest is the body of POST /events.
type IngestEventRequest struct {
	EventID        string           `json:"event_id"`
	EventType      models.EventType `json:"event_type"`
	UserID         string           `json:"user_id"`
	TenantID       string           `json:"tenant_id"`
	ConversationID string           `json:"conversation_id"`
	Data           map[string]any   `json:"data"`
}

// ToEvent converts the request on behalf of tenant.
func (r IngestEventRequest) ToEvent(tenant string) ingest.Event {
	return ingest.Event{
		EventID:        r.EventID,
		EventType:      r.EventType,
		UserID:         r.UserID,
		TenantID:       tenant,
		ConversationID: r.ConversationID,
		Data:           r.Data,
	}
}

// IngestEventResponse reports whether the event entered the log. Duplicates
// and downstream failures are reported as not accepted, never as errors.
type IngestEventResponse struct {
	Accepted bool   `json:"accepted"`
	EventID  string `json:"event_id"`
}

// WorkflowRequest is the body of POST /workflows and PUT /workflows/:id/graph.
type WorkflowRequest struct {
	Name                   string               `json:"name"                     validate:"required,min=3"`
	Description            string               `json:"description"`
	Layout                 map[string]any       `json:"layout,omitempty"`
	MaxExecutions          int                  `json:"max_executions"           validate:"min=0"`
	DelayBetweenExecutions models.Duration      `json:"delay_between_executions"`
	StartDate              *time.Time           `json:"start_date,omitempty"`
	EndDate                *time.Time           `json:"end_date,omitempty"`
	Metadata               map[string]any       `json:"metadata,omitempty"`
	Nodes                  []*models.Node       `json:"nodes"                    validate:"dive"`
	Connections            []*models.Connection `json:"connections"              validate:"dive"`
}

// ToWorkflow converts the request into a workflow model.
func (r WorkflowRequest) ToWorkflow() *models.Workflow {
	return &models.Workflow{
		Name:                   r.Name,
		Description:            r.Description,
		Layout:                 r.Layout,
		MaxExecutions:          r.MaxExecutions,
		DelayBetweenExecutions: r.DelayBetweenExecutions,
		StartDate:              r.StartDate,
		EndDate:                r.EndDate,
		Metadata:               r.Metadata,
		Nodes:                  r.Nodes,
		Connections:            r.Connections,
	}
}

// WorkflowSummary is the list representation of a workflow.
type WorkflowSummary struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Description    string                `json:"description"`
	Status         models.WorkflowStatus `json:"status"`
	ExecutionCount int64                 `json:"execution_count"`
	NodeCount      int                   `json:"node_count"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// TransformWorkflowSummary drops the graph from a workflow.
func TransformWorkflowSummary(workflow *models.Workflow) WorkflowSummary {
	return WorkflowSummary{
		ID:             workflow.ID,
		Name:           workflow.Name,
		Description:    workflow.Description,
		Status:         workflow.Status,
		ExecutionCount: workflow.ExecutionCount,
		NodeCount:      len(workflow.Nodes),
		UpdatedAt:      workflow.UpdatedAt,
	}
}
