// Package aicontrol is the bridge through which workflows steer the AI
// responder of a conversation.
//
// Two keys per conversation are shared with the AI subsystem:
//
//	ai_control_{conversation_id}  {"ai_enabled": bool, "custom_prompt": string|null, "mode": string}
//	ai_context_{conversation_id}  JSON object with free-form context
//
// Every write refreshes the key's TTL. Once a key expires the AI subsystem
// falls back to its default behaviour, which is enabled with no extra context.
package aicontrol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultTTL = 24 * time.Hour

type Mode string

const (
	ModeEnabled      Mode = "enabled"
	ModeDisabled     Mode = "disabled"
	ModeCustomPrompt Mode = "custom_prompt"
	ModeResetContext Mode = "reset_context"
)

var (
	ErrInvalidMode         = errors.New("invalid ai control mode")
	ErrMissingCustomPrompt = errors.New("custom_prompt mode requires a prompt")
)

// Control is the value of the ai_control key.
type Control struct {
	AIEnabled    bool    `json:"ai_enabled"`
	CustomPrompt *string `json:"custom_prompt"`
	Mode         Mode    `json:"mode"`
}

// NewControl builds the control record for mode.
func NewControl(mode Mode, prompt string) (Control, error) {
	switch mode {
	case ModeEnabled, ModeResetContext:
		return Control{AIEnabled: true, Mode: mode}, nil
	case ModeDisabled:
		return Control{AIEnabled: false, Mode: mode}, nil
	case ModeCustomPrompt:
		if prompt == "" {
			return Control{}, ErrMissingCustomPrompt
		}

		return Control{AIEnabled: true, CustomPrompt: &prompt, Mode: mode}, nil
	default:
		return Control{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
}

// Store reads and writes the AI-control keys. Implementations are passed by
// reference to the actions that need them.
type Store interface {
	// SetControl overwrites the control record; the last write wins.
	SetControl(ctx context.Context, conversationID string, control Control) error
	// Control returns nil when no record exists.
	Control(ctx context.Context, conversationID string) (*Control, error)
	// MergeContext shallow-merges values into the context object atomically.
	MergeContext(ctx context.Context, conversationID string, values map[string]any) error
	// Context returns an empty map when no context exists.
	Context(ctx context.Context, conversationID string) (map[string]any, error)
	// ResetContext deletes the context and records an enabled control with mode reset_context.
	ResetContext(ctx context.Context, conversationID string) error
}

func ControlKey(conversationID string) string {
	return "ai_control_" + conversationID
}

func ContextKey(conversationID string) string {
	return "ai_context_" + conversationID
}
