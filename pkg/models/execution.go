package models

import (
	"time"
)

// ExecutionStatus is the state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// ContinuationKind tells what a suspended branch is waiting for.
type ContinuationKind string

const (
	ContinuationWaiting ContinuationKind = "waiting" // counterparty response or timeout
	ContinuationDelay   ContinuationKind = "delay"   // fixed wake-up time
)

// Continuation is the durable token of a suspended branch.
type Continuation struct {
	ID        string           `json:"id"`
	NodeID    string           `json:"node_id"`
	Kind      ContinuationKind `json:"kind"`
	ResumeAt  time.Time        `json:"resume_at"`
	CreatedAt time.Time        `json:"created_at"`
}

// NodeResult records the outcome of one node visit.
type NodeResult struct {
	NodeID    string         `json:"node_id"`
	NodeType  NodeType       `json:"node_type"`
	Outcome   ConnectionType `json:"outcome,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecutionContext is the data a running execution resolves fields and templates against.
type ExecutionContext struct {
	Event        map[string]any            `json:"event"`
	User         map[string]any            `json:"user"`
	Conversation map[string]any            `json:"conversation"`
	Tags         []string                  `json:"tags"`
	Variables    map[string]any            `json:"variables"`
	Responses    map[string]any            `json:"responses"`
	Steps        map[string]map[string]any `json:"steps"`
	Retries      map[string]int            `json:"retries"`
	Visits       int                       `json:"visits"`
}

// Data returns the root map that field paths and {{placeholders}} resolve against.
func (c *ExecutionContext) Data(workflow *Workflow) map[string]any {
	tags := make([]any, 0, len(c.Tags))
	for _, tag := range c.Tags {
		tags = append(tags, tag)
	}

	steps := make(map[string]any, len(c.Steps))
	for nodeID, output := range c.Steps {
		steps[nodeID] = output
	}

	data := map[string]any{
		"event":        c.Event,
		"user":         c.User,
		"conversation": c.Conversation,
		"tags":         tags,
		"variables":    c.Variables,
		"responses":    c.Responses,
		"steps":        steps,
	}

	if workflow != nil {
		data["workflow"] = map[string]any{
			"id":    workflow.ID,
			"name":  workflow.Name,
			"owner": workflow.Owner,
		}
	}

	return data
}

// WorkflowExecution is one run of a workflow's graph for one matched event.
type WorkflowExecution struct {
	ID                string           `json:"id"`
	WorkflowID        string           `json:"workflow_id"`
	TriggeringEventID string           `json:"triggering_event_id"`
	ConversationID    string           `json:"conversation_id,omitempty"`
	Owner             string           `json:"owner"`
	Status            ExecutionStatus  `json:"status"`
	Context           ExecutionContext `json:"context"`
	Results           []NodeResult     `json:"results"`
	Continuations     []Continuation   `json:"continuations"`
	ErrorMessage      string           `json:"error_message,omitempty"`
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        *time.Time       `json:"finished_at,omitempty"`
}

// Continuation returns the pending continuation with the given id, or nil.
func (e *WorkflowExecution) Continuation(id string) *Continuation {
	for i := range e.Continuations {
		if e.Continuations[i].ID == id {
			return &e.Continuations[i]
		}
	}

	return nil
}

// RemoveContinuation drops a pending continuation and reports whether it existed.
func (e *WorkflowExecution) RemoveContinuation(id string) bool {
	for i := range e.Continuations {
		if e.Continuations[i].ID == id {
			e.Continuations = append(e.Continuations[:i], e.Continuations[i+1:]...)

			return true
		}
	}

	return false
}

// WaitingContinuations returns the continuations waiting for a counterparty response.
func (e *WorkflowExecution) WaitingContinuations() []Continuation {
	waiting := make([]Continuation, 0)

	for _, continuation := range e.Continuations {
		if continuation.Kind == ContinuationWaiting {
			waiting = append(waiting, continuation)
		}
	}

	return waiting
}
