package conversation

import (
	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

// ActionFactory serves one of set_conversation_status, add_tag or remove_tag.
type ActionFactory struct {
	actionType models.ActionType
	store      conversations.Store
}

func NewSetStatusFactory(store conversations.Store) *ActionFactory {
	return &ActionFactory{actionType: models.ActionSetConversationStatus, store: store}
}

func NewAddTagFactory(store conversations.Store) *ActionFactory {
	return &ActionFactory{actionType: models.ActionAddTag, store: store}
}

func NewRemoveTagFactory(store conversations.Store) *ActionFactory {
	return &ActionFactory{actionType: models.ActionRemoveTag, store: store}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return newAction(f.actionType, config, f.store)
}

func (f *ActionFactory) Type() models.ActionType {
	return f.actionType
}

func (f *ActionFactory) Schema() map[string]any {
	key := "tag"
	if f.actionType == models.ActionSetConversationStatus {
		key = "status"
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			key: map[string]any{"type": "string", "minLength": 1},
		},
		"required":             []string{key},
		"additionalProperties": false,
	}
}
