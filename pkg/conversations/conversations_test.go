package conversations_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/mocks"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := conversations.NewMemoryStore()

	_, err := store.Conversation(ctx, "conv-1")
	assert.True(t, conversations.IsNotFound(err))

	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{ID: "conv-1", Owner: "tenant-a", Tags: []string{"New"}}))

	require.NoError(t, store.AddTag(ctx, "conv-1", "VIP"))
	require.NoError(t, store.AddTag(ctx, "conv-1", "vip"))
	require.NoError(t, store.RemoveTag(ctx, "conv-1", "NEW"))
	require.NoError(t, store.SetStatus(ctx, "conv-1", "closed"))

	conversation, err := store.Conversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, conversation.Tags)
	assert.Equal(t, "closed", conversation.Status)

	// Returned conversations are copies.
	conversation.Tags[0] = "changed"

	again, err := store.Conversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"vip"}, again.Tags)

	assert.True(t, conversations.IsNotFound(store.AddTag(ctx, "missing", "x")))
	assert.True(t, conversations.IsNotFound(store.SaveMessage(ctx, &models.Message{ConversationID: "missing"})))
}

func TestOutbox_Send(t *testing.T) {
	ctx := context.Background()
	store := conversations.NewMemoryStore()
	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{ID: "conv-1", Owner: "tenant-a"}))

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-id")
	bus.On("Publish", mock.Anything, "conv-1", mock.MatchedBy(func(event events.MessageCreated) bool {
		return event.Message.Content == "Welcome VIP"
	})).Return(nil)

	outbox := conversations.NewOutbox(store, bus, testLogger())

	err := outbox.Send(ctx, &models.Message{
		ConversationID: "conv-1",
		Content:        "Welcome VIP",
		Metadata:       map[string]any{"workflow_id": "wf-1"},
	})
	require.NoError(t, err)

	messages, err := store.Messages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.SenderWorkflow, messages[0].Sender)
	assert.Equal(t, conversations.OriginWorkflow, messages[0].Metadata["origin"])
	assert.Equal(t, "wf-1", messages[0].Metadata["workflow_id"])

	bus.AssertExpectations(t)
}

func TestOutbox_PublishFailureKeepsMessage(t *testing.T) {
	ctx := context.Background()
	store := conversations.NewMemoryStore()
	require.NoError(t, store.SaveConversation(ctx, &models.Conversation{ID: "conv-1", Owner: "tenant-a"}))

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-id")
	bus.On("Publish", mock.Anything, "conv-1", mock.Anything).Return(errors.New("broker down"))

	err := conversations.NewOutbox(store, bus, testLogger()).Send(ctx, &models.Message{ConversationID: "conv-1", Content: "hi"})
	require.NoError(t, err)

	messages, err := store.Messages(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}
