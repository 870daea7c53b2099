// Package conversations is the engine's gateway to the chat store: it reads
// conversation ownership and writes the messages, statuses and tags that
// workflow actions produce.
package conversations

import (
	"context"
	"errors"
	"strings"

	"github.com/dukex/engageflow/pkg/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Store reads and mutates conversations.
type Store interface {
	// Conversation returns ErrConversationNotFound when the id is unknown.
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	SaveConversation(ctx context.Context, conversation *models.Conversation) error
	SaveMessage(ctx context.Context, message *models.Message) error
	Messages(ctx context.Context, conversationID string) ([]*models.Message, error)
	SetStatus(ctx context.Context, conversationID, status string) error
	// AddTag and RemoveTag are idempotent and compare tags case-insensitively.
	AddTag(ctx context.Context, conversationID, tag string) error
	RemoveTag(ctx context.Context, conversationID, tag string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// IsNotFound checks if an error indicates a conversation was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrConversationNotFound)
}

func normalizeTag(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
