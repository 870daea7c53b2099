package models

import "time"

// Trigger is a tenant's hook on an event type. One trigger feeds every
// workflow associated with it.
type Trigger struct {
	ID          string         `json:"id"`
	Owner       string         `json:"owner"`
	TriggerType EventType      `json:"trigger_type"`
	Name        string         `json:"name"`
	IsActive    bool           `json:"is_active"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// TriggerWorkflowAssociation links a trigger to a workflow and can be toggled on its own.
type TriggerWorkflowAssociation struct {
	ID         string    `json:"id"`
	TriggerID  string    `json:"trigger_id"`
	WorkflowID string    `json:"workflow_id"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}
