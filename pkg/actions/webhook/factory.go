package webhook

import (
	"net/http"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

// ActionFactory creates webhook actions sharing one HTTP client and one set
// of circuit breakers.
type ActionFactory struct {
	client   *http.Client
	breakers *Breakers
}

func NewActionFactory(client *http.Client, breakers *Breakers) *ActionFactory {
	if client == nil {
		client = &http.Client{}
	}

	return &ActionFactory{client: client, breakers: breakers}
}

func (f *ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	return newAction(config, f.client, f.breakers)
}

func (f *ActionFactory) Type() models.ActionType {
	return models.ActionWebhook
}

func (f *ActionFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Endpoint that receives the request. Supports {{path}} templates.",
				"minLength":   1,
				"examples": []string{
					"https://hooks.example.com/leads",
					"https://crm.example.com/contacts/{{responses.email}}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "POST",
				"enum":    []string{"POST", "PUT", "PATCH", "post", "put", "patch"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "JSON body. Strings inside objects and arrays are rendered as templates.",
			},
			"timeout": map[string]any{
				"type":        []string{"string", "number"},
				"description": "Per-call timeout as a Go duration or seconds (default 10s, max 30s).",
			},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
