package conversation

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
	"github.com/dukex/engageflow/pkg/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *conversations.MemoryStore {
	t.Helper()

	store := conversations.NewMemoryStore()
	require.NoError(t, store.SaveConversation(context.Background(), &models.Conversation{
		ID:     "conv-1",
		Owner:  "tenant-a",
		Status: "open",
		Tags:   []string{"trial"},
	}))

	return store
}

func run(t *testing.T, factory *ActionFactory, config map[string]any, conversationID string) protocol.ActionResult {
	t.Helper()

	action, err := factory.Create(config)
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), protocol.ActionContext{ConversationID: conversationID}, slog.Default())
	require.NoError(t, err)

	return result
}

func TestActions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	result := run(t, NewSetStatusFactory(store), map[string]any{"status": "closed"}, "conv-1")
	assert.True(t, result.Success)

	result = run(t, NewAddTagFactory(store), map[string]any{"tag": "VIP"}, "conv-1")
	assert.True(t, result.Success)

	result = run(t, NewAddTagFactory(store), map[string]any{"tag": "vip"}, "conv-1")
	assert.True(t, result.Success)

	result = run(t, NewRemoveTagFactory(store), map[string]any{"tag": "Trial"}, "conv-1")
	assert.True(t, result.Success)

	conversation, err := store.Conversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "closed", conversation.Status)
	assert.Equal(t, []string{"vip"}, conversation.Tags)
}

func TestActions_UnknownConversation(t *testing.T) {
	store := newStore(t)

	result := run(t, NewAddTagFactory(store), map[string]any{"tag": "vip"}, "missing")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")

	result = run(t, NewSetStatusFactory(store), map[string]any{"status": "closed"}, "")
	assert.False(t, result.Success)
	assert.Equal(t, ErrNoConversation.Error(), result.Error)
}

func TestFactories(t *testing.T) {
	store := newStore(t)

	_, err := NewSetStatusFactory(store).Create(map[string]any{})
	require.ErrorIs(t, err, ErrMissingStatus)

	_, err = NewRemoveTagFactory(store).Create(map[string]any{"tag": " "})
	require.ErrorIs(t, err, ErrMissingTag)

	assert.Equal(t, models.ActionRemoveTag, NewRemoveTagFactory(store).Type())
	require.NoError(t, schemas.Validate(NewSetStatusFactory(store).Schema(), map[string]any{"status": "pending"}))
	require.Error(t, schemas.Validate(NewAddTagFactory(store).Schema(), map[string]any{"status": "pending"}))
}
