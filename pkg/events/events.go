// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/engageflow/pkg/models"
)

type EventType string

// Topic carries the messages that drive executions; the metadata key
// partitions it.
const Topic = "engageflow.events"

// NotificationTopic carries lifecycle notifications. Executions publish only
// here, so a worker lane never waits on the topic it consumes.
const NotificationTopic = "engageflow.notifications"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Ingestion.
	EventLoggedEvent EventType = "event.logged"

	// Execution lifecycle.
	ContinuationDueEvent   EventType = "execution.continuation_due"
	ExecutionFinishedEvent EventType = "execution.finished"

	// Outbound messages for realtime subscribers.
	MessageCreatedEvent EventType = "message.created"

	// Workflow lifecycle.
	WorkflowActivatedEvent   EventType = "workflow.activated"
	WorkflowDeactivatedEvent EventType = "workflow.deactivated"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TopicOf returns the topic events of eventType travel on.
func TopicOf(eventType EventType) string {
	switch eventType {
	case EventLoggedEvent, ContinuationDueEvent:
		return Topic
	default:
		return NotificationTopic
	}
}

// NewBaseEvent stamps an event envelope.
func NewBaseEvent(id string, eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// EventLogged announces a freshly ingested event to the matchers.
type EventLogged struct {
	BaseEvent

	EventLog *models.EventLog `json:"event_log"`
}

func (e EventLogged) GetType() EventType {
	return EventLoggedEvent
}

// ContinuationDue asks the owner of a suspended branch to resume it.
type ContinuationDue struct {
	BaseEvent

	ExecutionID    string                  `json:"execution_id"`
	ContinuationID string                  `json:"continuation_id"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	NodeID         string                  `json:"node_id"`
	Kind           models.ContinuationKind `json:"kind"`
}

func (e ContinuationDue) GetType() EventType {
	return ContinuationDueEvent
}

// ExecutionFinished reports a terminal execution state.
type ExecutionFinished struct {
	BaseEvent

	ExecutionID  string                 `json:"execution_id"`
	WorkflowID   string                 `json:"workflow_id"`
	Status       models.ExecutionStatus `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
}

func (e ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

// MessageCreated notifies realtime subscribers of a message written by a workflow.
type MessageCreated struct {
	BaseEvent

	Message *models.Message `json:"message"`
}

func (e MessageCreated) GetType() EventType {
	return MessageCreatedEvent
}

// WorkflowActivated is published when a workflow becomes matchable.
type WorkflowActivated struct {
	BaseEvent

	WorkflowID string `json:"workflow_id"`
	Owner      string `json:"owner"`
}

func (e WorkflowActivated) GetType() EventType {
	return WorkflowActivatedEvent
}

// WorkflowDeactivated is published when a workflow is paused, archived or deleted.
type WorkflowDeactivated struct {
	BaseEvent

	WorkflowID string                `json:"workflow_id"`
	Status     models.WorkflowStatus `json:"status"`
}

func (e WorkflowDeactivated) GetType() EventType {
	return WorkflowDeactivatedEvent
}
