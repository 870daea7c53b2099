package delay

import (
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

type ActionFactory struct {
	now func() time.Time
}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{now: time.Now}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return newAction(config, f.now)
}

func (f *ActionFactory) Type() models.ActionType {
	return models.ActionDelay
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"duration": map[string]any{
				"type":        []string{"string", "number"},
				"description": "Go duration (\"15m\") or seconds.",
			},
			"until": map[string]any{
				"type":        "string",
				"description": "RFC 3339 timestamp, may be a {{path}} template.",
			},
		},
		"anyOf": []any{
			map[string]any{"required": []string{"duration"}},
			map[string]any{"required": []string{"until"}},
		},
		"additionalProperties": false,
	}
}
