package mocks

import (
	"context"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockConversationStore is a mock implementation of conversations.Store interface.
type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	args := m.Called(ctx, id)

	conversation, _ := args.Get(0).(*models.Conversation)

	return conversation, args.Error(1)
}

func (m *MockConversationStore) SaveConversation(ctx context.Context, conversation *models.Conversation) error {
	args := m.Called(ctx, conversation)

	return args.Error(0)
}

func (m *MockConversationStore) SaveMessage(ctx context.Context, message *models.Message) error {
	args := m.Called(ctx, message)

	return args.Error(0)
}

func (m *MockConversationStore) Messages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	args := m.Called(ctx, conversationID)

	messages, _ := args.Get(0).([]*models.Message)

	return messages, args.Error(1)
}

func (m *MockConversationStore) SetStatus(ctx context.Context, conversationID, status string) error {
	args := m.Called(ctx, conversationID, status)

	return args.Error(0)
}

func (m *MockConversationStore) AddTag(ctx context.Context, conversationID, tag string) error {
	args := m.Called(ctx, conversationID, tag)

	return args.Error(0)
}

func (m *MockConversationStore) RemoveTag(ctx context.Context, conversationID, tag string) error {
	args := m.Called(ctx, conversationID, tag)

	return args.Error(0)
}

func (m *MockConversationStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockConversationStore) Close() error {
	args := m.Called()

	return args.Error(0)
}
