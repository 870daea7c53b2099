package conversations

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process memory for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string][]*models.Message),
	}
}

func (s *MemoryStore) Conversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conversation, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}

	copied := *conversation
	copied.Tags = slices.Clone(conversation.Tags)

	return &copied, nil
}

func (s *MemoryStore) SaveConversation(_ context.Context, conversation *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *conversation
	copied.Tags = make([]string, 0, len(conversation.Tags))

	for _, tag := range conversation.Tags {
		copied.Tags = append(copied.Tags, normalizeTag(tag))
	}

	s.conversations[conversation.ID] = &copied

	return nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[message.ConversationID]; !ok {
		return fmt.Errorf("conversation %s: %w", message.ConversationID, ErrConversationNotFound)
	}

	if message.ID == "" {
		message.ID = uuid.NewString()
	}

	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	copied := *message
	s.messages[message.ConversationID] = append(s.messages[message.ConversationID], &copied)

	return nil
}

func (s *MemoryStore) Messages(_ context.Context, conversationID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.messages[conversationID]), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, conversationID, status string) error {
	return s.update(conversationID, func(c *models.Conversation) {
		c.Status = status
	})
}

func (s *MemoryStore) AddTag(_ context.Context, conversationID, tag string) error {
	tag = normalizeTag(tag)

	return s.update(conversationID, func(c *models.Conversation) {
		if !slices.Contains(c.Tags, tag) {
			c.Tags = append(c.Tags, tag)
		}
	})
}

func (s *MemoryStore) RemoveTag(_ context.Context, conversationID, tag string) error {
	tag = normalizeTag(tag)

	return s.update(conversationID, func(c *models.Conversation) {
		c.Tags = slices.DeleteFunc(c.Tags, func(existing string) bool {
			return existing == tag
		})
	})
}

func (s *MemoryStore) HealthCheck(_ context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) update(conversationID string, mutate func(*models.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversation, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrConversationNotFound)
	}

	mutate(conversation)

	return nil
}
