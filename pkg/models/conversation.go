package models

import "time"

// Conversation is the engine's projection of a chat conversation owned by a tenant.
type Conversation struct {
	ID      string         `json:"id"`
	Owner   string         `json:"owner"`
	Channel string         `json:"channel,omitempty"`
	Status  string         `json:"status,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
	Contact map[string]any `json:"contact,omitempty"`
}

// Message is a message persisted in a conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Sender         string         `json:"sender"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Message senders.
const (
	SenderWorkflow = "workflow"
	SenderContact  = "contact"
)
