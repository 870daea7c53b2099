// Package conversation provides the actions that change a conversation's
// status and tags.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

var (
	ErrMissingStatus  = errors.New("set_conversation_status needs a status")
	ErrMissingTag     = errors.New("tag actions need a tag")
	ErrNoConversation = errors.New("execution has no conversation to update")
)

// Action applies one mutation through the conversations store.
type Action struct {
	Type  models.ActionType
	Value string

	store conversations.Store
}

func newAction(actionType models.ActionType, config map[string]any, store conversations.Store) (*Action, error) {
	key, missing := "tag", ErrMissingTag
	if actionType == models.ActionSetConversationStatus {
		key, missing = "status", ErrMissingStatus
	}

	value, _ := config[key].(string)
	if strings.TrimSpace(value) == "" {
		return nil, missing
	}

	return &Action{Type: actionType, Value: strings.TrimSpace(value), store: store}, nil
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (protocol.ActionResult, error) {
	if actionCtx.ConversationID == "" {
		return protocol.Failed(ErrNoConversation), nil
	}

	var (
		err    error
		output map[string]any
	)

	switch a.Type {
	case models.ActionSetConversationStatus:
		err = a.store.SetStatus(ctx, actionCtx.ConversationID, a.Value)
		output = map[string]any{"status": a.Value}
	case models.ActionAddTag:
		err = a.store.AddTag(ctx, actionCtx.ConversationID, a.Value)
		output = map[string]any{"tag": a.Value}
	case models.ActionRemoveTag:
		err = a.store.RemoveTag(ctx, actionCtx.ConversationID, a.Value)
		output = map[string]any{"tag": a.Value}
	default:
		return protocol.ActionResult{}, fmt.Errorf("unsupported conversation action %q", a.Type)
	}

	if err != nil {
		logger.WarnContext(ctx, "Failed to update conversation",
			"module", "conversation_action",
			"action_type", a.Type,
			"conversation_id", actionCtx.ConversationID,
			"error", err)

		return protocol.Failed(fmt.Errorf("%s: %w", a.Type, err)), nil
	}

	return protocol.Succeeded(output), nil
}
