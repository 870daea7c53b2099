package workflow

import (
	"time"

	"github.com/dukex/engageflow/pkg/models"
)

// newExecutionContext seeds the data an execution resolves fields against.
func newExecutionContext(workflow *models.Workflow, event *models.EventLog, conversation *models.Conversation) models.ExecutionContext {
	execCtx := models.ExecutionContext{
		Event: map[string]any{
			"event_id":        event.EventID,
			"event_type":      string(event.EventType),
			"user_id":         event.UserID,
			"tenant_id":       event.TenantID,
			"conversation_id": event.ConversationID,
			"data":            orEmpty(event.Data),
			"created_at":      event.CreatedAt.UTC().Format(time.RFC3339),
		},
		User:         map[string]any{"id": event.UserID},
		Conversation: map[string]any{},
		Tags:         []string{},
		Variables:    map[string]any{},
		Responses:    map[string]any{},
		Steps:        map[string]map[string]any{},
		Retries:      map[string]int{},
	}

	if variables, ok := workflow.Metadata["variables"].(map[string]any); ok {
		for key, value := range variables {
			execCtx.Variables[key] = value
		}
	}

	if conversation != nil {
		tags := make([]any, 0, len(conversation.Tags))
		for _, tag := range conversation.Tags {
			tags = append(tags, tag)
		}

		execCtx.Conversation = map[string]any{
			"id":      conversation.ID,
			"owner":   conversation.Owner,
			"channel": conversation.Channel,
			"status":  conversation.Status,
			"tags":    tags,
		}
		execCtx.Tags = append(execCtx.Tags, conversation.Tags...)

		for key, value := range conversation.Contact {
			execCtx.User[key] = value
		}
	}

	return execCtx
}

// ensureMaps restores maps that a JSON round trip may have left nil.
func ensureMaps(execCtx *models.ExecutionContext) {
	if execCtx.Variables == nil {
		execCtx.Variables = map[string]any{}
	}

	if execCtx.Responses == nil {
		execCtx.Responses = map[string]any{}
	}

	if execCtx.Steps == nil {
		execCtx.Steps = map[string]map[string]any{}
	}

	if execCtx.Retries == nil {
		execCtx.Retries = map[string]int{}
	}
}

func orEmpty(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}

	return data
}
