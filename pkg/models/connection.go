package models

import "encoding/json"

// ConnectionType labels the outcome a connection is followed on.
type ConnectionType string

const (
	ConnectionTypeSuccess ConnectionType = "success"
	ConnectionTypeFailure ConnectionType = "failure"
	ConnectionTypeTimeout ConnectionType = "timeout"
	ConnectionTypeSkip    ConnectionType = "skip"
)

// Valid reports whether t is a known connection type.
func (t ConnectionType) Valid() bool {
	switch t {
	case ConnectionTypeSuccess, ConnectionTypeFailure, ConnectionTypeTimeout, ConnectionTypeSkip:
		return true
	default:
		return false
	}
}

// Connection is a directed, typed edge between two nodes of the same workflow.
type Connection struct {
	ID             string         `json:"id"`
	SourceNodeID   string         `json:"source_node_id"  validate:"required"`
	TargetNodeID   string         `json:"target_node_id"  validate:"required"`
	ConnectionType ConnectionType `json:"connection_type" validate:"required,oneof=success failure timeout skip"`
	// Condition optionally names the condition clause that selects this edge.
	Condition string `json:"condition,omitempty"`
}

func deepCopy(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dst)
}
