package sendmessage

import (
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

type ActionFactory struct {
	sender Sender
}

func NewActionFactory(sender Sender) *ActionFactory {
	return &ActionFactory{sender: sender}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return newAction(config, f.sender)
}

func (f *ActionFactory) Type() models.ActionType {
	return models.ActionSendMessage
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"minLength":   1,
				"description": "Message text. Supports {{path}} templates.",
				"examples": []string{
					"Hi {{user.name}}, thanks for reaching out!",
				},
			},
			"metadata": map[string]any{
				"type": "object",
			},
		},
		"required":             []string{"content"},
		"additionalProperties": false,
	}
}
