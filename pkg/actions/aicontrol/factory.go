package aicontrol

import (
	"github.com/dukex/engageflow/pkg/aicontrol"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

type ControlActionFactory struct {
	store aicontrol.Store
}

func NewControlActionFactory(store aicontrol.Store) *ControlActionFactory {
	return &ControlActionFactory{store: store}
}

func (f *ControlActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return newControlAction(config, f.store)
}

func (f *ControlActionFactory) Type() models.ActionType {
	return models.ActionControlAIResponse
}

func (f *ControlActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"mode": map[string]any{
				"type": "string",
				"enum": []string{
					string(aicontrol.ModeEnabled),
					string(aicontrol.ModeDisabled),
					string(aicontrol.ModeCustomPrompt),
					string(aicontrol.ModeResetContext),
				},
			},
			"custom_prompt": map[string]any{
				"type":        "string",
				"description": "Prompt used while mode is custom_prompt.",
			},
		},
		"required": []string{"mode"},
		"if": map[string]any{
			"properties": map[string]any{"mode": map[string]any{"const": string(aicontrol.ModeCustomPrompt)}},
		},
		"then": map[string]any{
			"required": []string{"custom_prompt"},
		},
		"additionalProperties": false,
	}
}

type ContextActionFactory struct {
	store aicontrol.Store
}

func NewContextActionFactory(store aicontrol.Store) *ContextActionFactory {
	return &ContextActionFactory{store: store}
}

func (f *ContextActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return newContextAction(config, f.store)
}

func (f *ContextActionFactory) Type() models.ActionType {
	return models.ActionUpdateAIContext
}

func (f *ContextActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"context": map[string]any{
				"type":          "object",
				"minProperties": 1,
				"description":   "Keys merged into the conversation's AI context. Values support {{path}} templates.",
			},
		},
		"required":             []string{"context"},
		"additionalProperties": false,
	}
}
