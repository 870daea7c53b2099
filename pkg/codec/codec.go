// Package codec converts workflows to and from portable export documents.
package codec

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/schemas"
)

// Version is written into export_metadata of every exported document.
const Version = "1.0"

//go:embed document.schema.json
var documentSchemaJSON []byte

var documentSchema map[string]any

func init() {
	err := json.Unmarshal(documentSchemaJSON, &documentSchema)
	if err != nil {
		panic(fmt.Sprintf("codec: invalid embedded schema: %v", err))
	}
}

var (
	ErrInvalidDocument  = errors.New("invalid workflow document")
	ErrEmptyDocument    = errors.New("workflow document has no nodes")
	ErrDuplicateNodeID  = errors.New("duplicate node id in document")
	ErrUnknownReference = errors.New("connection references an unknown node")
)

// Document is the portable form of a workflow.
type Document struct {
	Workflow       WorkflowInfo         `json:"workflow"`
	Nodes          []*models.Node       `json:"nodes,omitempty"`
	Connections    []*models.Connection `json:"connections,omitempty"`
	Triggers       []TriggerEntry       `json:"triggers,omitempty"`
	Actions        []ActionEntry        `json:"actions,omitempty"`
	Conditions     []models.Clause      `json:"conditions,omitempty"`
	ExportMetadata Metadata             `json:"export_metadata"`
}

type WorkflowInfo struct {
	Name                   string          `json:"name"`
	Description            string          `json:"description,omitempty"`
	Layout                 map[string]any  `json:"layout,omitempty"`
	MaxExecutions          int             `json:"max_executions"`
	DelayBetweenExecutions models.Duration `json:"delay_between_executions"`
	StartDate              *time.Time      `json:"start_date,omitempty"`
	EndDate                *time.Time      `json:"end_date,omitempty"`
	Metadata               map[string]any  `json:"metadata,omitempty"`
}

// TriggerEntry is a tenant trigger referenced by the workflow. In legacy
// documents its config carries the When criteria (keywords, tags, channels,
// schedule).
type TriggerEntry struct {
	TriggerType models.EventType `json:"trigger_type"`
	Name        string           `json:"name,omitempty"`
	Config      map[string]any   `json:"config,omitempty"`
}

// ActionEntry is one step of a legacy linear action list.
type ActionEntry struct {
	ActionType models.ActionType `json:"action_type"`
	Name       string            `json:"name,omitempty"`
	Order      int               `json:"order"`
	Config     map[string]any    `json:"config,omitempty"`
}

type Metadata struct {
	ExportedAt         time.Time `json:"exported_at"`
	OriginalWorkflowID string    `json:"original_workflow_id,omitempty"`
	Version            string    `json:"version,omitempty"`
}

// Export captures workflow and the triggers it listens to.
func Export(workflow *models.Workflow, triggers []*models.Trigger, now time.Time) (*Document, error) {
	nodes := make([]*models.Node, 0, len(workflow.Nodes))

	for _, node := range workflow.Nodes {
		clone, err := node.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to copy node %s: %w", node.ID, err)
		}

		clone.WorkflowID = ""
		nodes = append(nodes, clone)
	}

	connections := make([]*models.Connection, 0, len(workflow.Connections))
	for _, connection := range workflow.Connections {
		copied := *connection
		connections = append(connections, &copied)
	}

	entries := make([]TriggerEntry, 0, len(triggers))
	for _, trigger := range triggers {
		entries = append(entries, TriggerEntry{
			TriggerType: trigger.TriggerType,
			Name:        trigger.Name,
			Config:      trigger.Config,
		})
	}

	return &Document{
		Workflow: WorkflowInfo{
			Name:                   workflow.Name,
			Description:            workflow.Description,
			Layout:                 workflow.Layout,
			MaxExecutions:          workflow.MaxExecutions,
			DelayBetweenExecutions: workflow.DelayBetweenExecutions,
			StartDate:              workflow.StartDate,
			EndDate:                workflow.EndDate,
			Metadata:               workflow.Metadata,
		},
		Nodes:       nodes,
		Connections: connections,
		Triggers:    entries,
		ExportMetadata: Metadata{
			ExportedAt:         now.UTC(),
			OriginalWorkflowID: workflow.ID,
			Version:            Version,
		},
	}, nil
}

// Validate checks a raw document against the embedded schema.
func Validate(raw []byte) error {
	err := schemas.ValidateJSON(documentSchema, raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return nil
}

// Decode validates and parses a raw document.
func Decode(raw []byte) (*Document, error) {
	err := Validate(raw)
	if err != nil {
		return nil, err
	}

	var doc Document

	err = json.Unmarshal(raw, &doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &doc, nil
}

// Import builds a DRAFT workflow owned by newOwner from doc. Every node and
// connection gets a fresh id from newID and connections are rewritten to the
// new node ids. The returned triggers are the ones the workflow's When nodes
// need, owned by newOwner.
func Import(doc *Document, newOwner string, newID func() string) (*models.Workflow, []*models.Trigger, error) {
	nodes, connections := doc.Nodes, doc.Connections
	if len(nodes) == 0 {
		nodes, connections = legacyGraph(doc)
	}

	if len(nodes) == 0 {
		return nil, nil, ErrEmptyDocument
	}

	workflow := &models.Workflow{
		ID:                     newID(),
		Owner:                  newOwner,
		Name:                   doc.Workflow.Name,
		Description:            doc.Workflow.Description,
		Status:                 models.WorkflowStatusDraft,
		Layout:                 doc.Workflow.Layout,
		MaxExecutions:          doc.Workflow.MaxExecutions,
		DelayBetweenExecutions: doc.Workflow.DelayBetweenExecutions,
		StartDate:              doc.Workflow.StartDate,
		EndDate:                doc.Workflow.EndDate,
		Metadata:               doc.Workflow.Metadata,
		Nodes:                  make([]*models.Node, 0, len(nodes)),
		Connections:            make([]*models.Connection, 0, len(connections)),
	}

	ids := make(map[string]string, len(nodes))

	for _, node := range nodes {
		if _, seen := ids[node.ID]; seen {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		clone, err := node.Clone()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to copy node %s: %w", node.ID, err)
		}

		ids[node.ID] = newID()
		clone.ID = ids[node.ID]
		clone.WorkflowID = workflow.ID
		workflow.Nodes = append(workflow.Nodes, clone)
	}

	for _, connection := range connections {
		source, okSource := ids[connection.SourceNodeID]
		target, okTarget := ids[connection.TargetNodeID]

		if !okSource || !okTarget {
			return nil, nil, fmt.Errorf("%w: %s -> %s", ErrUnknownReference, connection.SourceNodeID, connection.TargetNodeID)
		}

		workflow.Connections = append(workflow.Connections, &models.Connection{
			ID:             newID(),
			SourceNodeID:   source,
			TargetNodeID:   target,
			ConnectionType: connection.ConnectionType,
			Condition:      connection.Condition,
		})
	}

	return workflow, importTriggers(doc, workflow, newOwner, newID), nil
}

func importTriggers(doc *Document, workflow *models.Workflow, owner string, newID func() string) []*models.Trigger {
	triggers := make([]*models.Trigger, 0)
	seen := make(map[models.EventType]bool)

	add := func(eventType models.EventType, name string, config map[string]any) {
		if seen[eventType] || !eventType.Valid() {
			return
		}

		if name == "" {
			name = string(eventType)
		}

		seen[eventType] = true
		triggers = append(triggers, &models.Trigger{
			ID:          newID(),
			Owner:       owner,
			TriggerType: eventType,
			Name:        name,
			IsActive:    true,
			Config:      config,
		})
	}

	for _, entry := range doc.Triggers {
		if slices.Contains(workflow.EventTypes(), entry.TriggerType) {
			add(entry.TriggerType, entry.Name, entry.Config)
		}
	}

	for _, eventType := range workflow.EventTypes() {
		add(eventType, "", nil)
	}

	return triggers
}
