package models

import (
	"errors"
	"fmt"
)

// NodeType is the variant tag of a workflow node.
type NodeType string

const (
	NodeTypeWhen      NodeType = "when"
	NodeTypeCondition NodeType = "condition"
	NodeTypeAction    NodeType = "action"
	NodeTypeWaiting   NodeType = "waiting"
)

// CanEmit reports whether a node of this variant can produce the given outcome.
func (t NodeType) CanEmit(outcome ConnectionType) bool {
	switch t {
	case NodeTypeWhen:
		return outcome == ConnectionTypeSuccess
	case NodeTypeCondition:
		return outcome == ConnectionTypeSuccess || outcome == ConnectionTypeFailure || outcome == ConnectionTypeSkip
	case NodeTypeAction, NodeTypeWaiting:
		return outcome.Valid()
	default:
		return false
	}
}

// CombinationOperator joins the clauses of a condition node.
type CombinationOperator string

const (
	CombinationAnd CombinationOperator = "and"
	CombinationOr  CombinationOperator = "or"
)

// ActionType is the variant tag of an action node.
type ActionType string

const (
	ActionSendMessage           ActionType = "send_message"
	ActionControlAIResponse     ActionType = "control_ai_response"
	ActionUpdateAIContext       ActionType = "update_ai_context"
	ActionSetConversationStatus ActionType = "set_conversation_status"
	ActionAddTag                ActionType = "add_tag"
	ActionRemoveTag             ActionType = "remove_tag"
	ActionWebhook               ActionType = "webhook"
	ActionDelay                 ActionType = "delay"
)

// StorageType describes how a waiting node validates the counterparty's response.
type StorageType string

const (
	StorageText       StorageType = "text"
	StorageChoice     StorageType = "choice"
	StorageStructured StorageType = "structured"
)

// WhenConfig holds the entry criteria of a when node.
type WhenConfig struct {
	WhenType EventType `json:"when_type"`
	Keywords []string  `json:"keywords,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Channels []string  `json:"channels,omitempty"`
	Schedule string    `json:"schedule,omitempty"`
}

// Clause is a single predicate of a condition node.
type Clause struct {
	ID       string `json:"id,omitempty"`
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Negate   bool   `json:"negate,omitempty"`
}

// ConditionConfig holds the clauses of a condition node.
type ConditionConfig struct {
	CombinationOperator CombinationOperator `json:"combination_operator"`
	Clauses             []Clause            `json:"clauses"`
}

// ActionConfig holds the action type and its type-specific configuration.
type ActionConfig struct {
	ActionType ActionType     `json:"action_type"`
	Config     map[string]any `json:"config"`
}

// WaitingConfig holds the prompt and response rules of a waiting node.
type WaitingConfig struct {
	StorageType     StorageType    `json:"storage_type"`
	Prompt          string         `json:"prompt,omitempty"`
	Options         []string       `json:"options,omitempty"`
	Schema          map[string]any `json:"schema,omitempty"`
	VariableName    string         `json:"variable_name,omitempty"`
	AllowedErrors   int            `json:"allowed_errors"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ResponseTimeout Duration       `json:"response_timeout"`
}

// Node is a graph vertex. Exactly one variant payload is set and it matches Type.
type Node struct {
	ID         string   `json:"id"          validate:"required"`
	WorkflowID string   `json:"workflow_id"`
	Type       NodeType `json:"type"        validate:"required,oneof=when condition action waiting"`
	Name       string   `json:"name"`
	PositionX  int      `json:"position_x"`
	PositionY  int      `json:"position_y"`
	IsActive   bool     `json:"is_active"`

	When      *WhenConfig      `json:"when,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty"`
	Action    *ActionConfig    `json:"action,omitempty"`
	Waiting   *WaitingConfig   `json:"waiting,omitempty"`
}

var ErrNodeVariantMismatch = errors.New("node payload does not match its type")

// Validate checks that the node carries exactly the payload its type requires.
func (n *Node) Validate() error {
	set := 0
	for _, present := range []bool{n.When != nil, n.Condition != nil, n.Action != nil, n.Waiting != nil} {
		if present {
			set++
		}
	}

	if set != 1 {
		return fmt.Errorf("node %s: %w", n.ID, ErrNodeVariantMismatch)
	}

	var ok bool

	switch n.Type {
	case NodeTypeWhen:
		ok = n.When != nil && n.When.WhenType.Valid()
	case NodeTypeCondition:
		ok = n.Condition != nil &&
			(n.Condition.CombinationOperator == CombinationAnd || n.Condition.CombinationOperator == CombinationOr)
	case NodeTypeAction:
		ok = n.Action != nil && n.Action.ActionType != ""
	case NodeTypeWaiting:
		ok = n.Waiting != nil && n.Waiting.AllowedErrors >= 0 && n.Waiting.ResponseTimeout > 0
	}

	if !ok {
		return fmt.Errorf("node %s (%s): %w", n.ID, n.Type, ErrNodeVariantMismatch)
	}

	return nil
}

// Clone returns a deep copy of the node through its JSON form.
func (n *Node) Clone() (*Node, error) {
	var clone Node

	err := deepCopy(n, &clone)
	if err != nil {
		return nil, err
	}

	return &clone, nil
}
