package models

import "time"

// EventType is the fixed enumeration of domain events the engine reacts to.
type EventType string

const (
	EventMessageReceived           EventType = "message_received"
	EventMessageSent               EventType = "message_sent"
	EventTagAdded                  EventType = "tag_added"
	EventTagRemoved                EventType = "tag_removed"
	EventUserCreated               EventType = "user_created"
	EventConversationCreated       EventType = "conversation_created"
	EventConversationStatusChanged EventType = "conversation_status_changed"
	EventScheduledTick             EventType = "scheduled_tick"
)

// EventTypes lists every accepted event type.
var EventTypes = []EventType{
	EventMessageReceived,
	EventMessageSent,
	EventTagAdded,
	EventTagRemoved,
	EventUserCreated,
	EventConversationCreated,
	EventConversationStatusChanged,
	EventScheduledTick,
}

// Valid reports whether t is part of the enumeration.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}

	return false
}

// EventLog is the immutable, idempotency-keyed record of a domain occurrence.
type EventLog struct {
	EventID        string         `json:"event_id"`
	EventType      EventType      `json:"event_type"`
	UserID         string         `json:"user_id,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Data           map[string]any `json:"data"`
	CreatedAt      time.Time      `json:"created_at"`
	// PublishedAt is set once the event reached the bus.
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// OrderingKey is the key events are partitioned by: the conversation when
// present, otherwise the tenant.
func (e *EventLog) OrderingKey() string {
	if e.ConversationID != "" {
		return e.ConversationID
	}

	if e.TenantID != "" {
		return e.TenantID
	}

	return e.EventID
}

// StringData returns data[key] when it is a string.
func (e *EventLog) StringData(key string) string {
	if e.Data == nil {
		return ""
	}

	value, _ := e.Data[key].(string)

	return value
}
