// Package aicontrol provides the actions that steer the AI responder of a
// conversation through the shared AI-control store.
package aicontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/engageflow/pkg/aicontrol"
	"github.com/dukex/engageflow/pkg/protocol"
)

var (
	ErrNoConversation = errors.New("execution has no conversation to control")
	ErrMissingContext = errors.New("update_ai_context needs a context object")
)

// ControlAction writes the ai_control record.
type ControlAction struct {
	Mode    aicontrol.Mode
	Control aicontrol.Control

	store aicontrol.Store
}

func newControlAction(config map[string]any, store aicontrol.Store) (*ControlAction, error) {
	mode, _ := config["mode"].(string)
	prompt, _ := config["custom_prompt"].(string)

	control, err := aicontrol.NewControl(aicontrol.Mode(mode), prompt)
	if err != nil {
		return nil, err
	}

	return &ControlAction{Mode: control.Mode, Control: control, store: store}, nil
}

func (a *ControlAction) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (protocol.ActionResult, error) {
	if actionCtx.ConversationID == "" {
		return protocol.Failed(ErrNoConversation), nil
	}

	var err error
	if a.Mode == aicontrol.ModeResetContext {
		err = a.store.ResetContext(ctx, actionCtx.ConversationID)
	} else {
		err = a.store.SetControl(ctx, actionCtx.ConversationID, a.Control)
	}

	if err != nil {
		logger.WarnContext(ctx, "Failed to write ai control",
			"module", "ai_control_action",
			"conversation_id", actionCtx.ConversationID,
			"mode", a.Mode,
			"error", err)

		return protocol.Failed(fmt.Errorf("ai control: %w", err)), nil
	}

	return protocol.Succeeded(map[string]any{
		"mode":       string(a.Mode),
		"ai_enabled": a.Control.AIEnabled,
	}), nil
}

// ContextAction merges values into the ai_context record.
type ContextAction struct {
	Values map[string]any

	store aicontrol.Store
}

func newContextAction(config map[string]any, store aicontrol.Store) (*ContextAction, error) {
	values, ok := config["context"].(map[string]any)
	if !ok || len(values) == 0 {
		return nil, ErrMissingContext
	}

	return &ContextAction{Values: values, store: store}, nil
}

func (a *ContextAction) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (protocol.ActionResult, error) {
	if actionCtx.ConversationID == "" {
		return protocol.Failed(ErrNoConversation), nil
	}

	err := a.store.MergeContext(ctx, actionCtx.ConversationID, a.Values)
	if err != nil {
		logger.WarnContext(ctx, "Failed to merge ai context",
			"module", "ai_context_action",
			"conversation_id", actionCtx.ConversationID,
			"error", err)

		return protocol.Failed(fmt.Errorf("ai context: %w", err)), nil
	}

	keys := make([]any, 0, len(a.Values))
	for key := range a.Values {
		keys = append(keys, key)
	}

	return protocol.Succeeded(map[string]any{"updated_keys": keys}), nil
}
