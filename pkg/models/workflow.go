// Package models defines the core domain models for tenant-owned workflow automation.
package models

import (
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never matched
	WorkflowStatusActive   WorkflowStatus = "active"   // Matched against incoming events
	WorkflowStatusPaused   WorkflowStatus = "paused"   // Temporarily excluded from matching
	WorkflowStatusArchived WorkflowStatus = "archived" // Retired, kept for history
)

// Valid reports whether s is a known workflow status.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusPaused, WorkflowStatusArchived:
		return true
	default:
		return false
	}
}

// Workflow represents a tenant-owned automation graph.
type Workflow struct {
	ID                     string         `json:"id"`
	Owner                  string         `json:"owner"                              validate:"required"`
	Name                   string         `json:"name"                               validate:"required,min=3"`
	Description            string         `json:"description"`
	Status                 WorkflowStatus `json:"status"                             validate:"required"`
	Layout                 map[string]any `json:"layout,omitempty"`
	MaxExecutions          int            `json:"max_executions"                     validate:"min=0"`
	DelayBetweenExecutions Duration       `json:"delay_between_executions"`
	StartDate              *time.Time     `json:"start_date,omitempty"`
	EndDate                *time.Time     `json:"end_date,omitempty"`
	ExecutionCount         int64          `json:"execution_count"`
	Nodes                  []*Node        `json:"nodes"`
	Connections            []*Connection  `json:"connections"`
	Metadata               map[string]any `json:"metadata,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// InWindow reports whether now falls inside the workflow's optional validity window.
func (w *Workflow) InWindow(now time.Time) bool {
	if w.StartDate != nil && now.Before(*w.StartDate) {
		return false
	}

	if w.EndDate != nil && now.After(*w.EndDate) {
		return false
	}

	return true
}

// BelowLimit reports whether the workflow may start another execution.
func (w *Workflow) BelowLimit() bool {
	return w.MaxExecutions <= 0 || w.ExecutionCount < int64(w.MaxExecutions)
}

// Eligible reports whether the workflow can be matched against an event at now.
func (w *Workflow) Eligible(now time.Time) bool {
	return w.Status == WorkflowStatusActive && w.InWindow(now) && w.BelowLimit()
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// WhenNodes returns the workflow's entry nodes.
func (w *Workflow) WhenNodes() []*Node {
	nodes := make([]*Node, 0)

	for _, node := range w.Nodes {
		if node.Type == NodeTypeWhen {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// OutgoingConnections returns the connections leaving nodeID in declaration order.
func (w *Workflow) OutgoingConnections(nodeID string) []*Connection {
	connections := make([]*Connection, 0)

	for _, conn := range w.Connections {
		if conn.SourceNodeID == nodeID {
			connections = append(connections, conn)
		}
	}

	return connections
}

// EventTypes returns the distinct event types the workflow's When nodes listen to.
func (w *Workflow) EventTypes() []EventType {
	seen := make(map[EventType]bool)
	types := make([]EventType, 0)

	for _, node := range w.WhenNodes() {
		if node.When == nil || seen[node.When.WhenType] {
			continue
		}

		seen[node.When.WhenType] = true
		types = append(types, node.When.WhenType)
	}

	return types
}
