// Package sendmessage provides the action that writes a workflow message into
// the conversation.
package sendmessage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
	"github.com/google/uuid"
)

var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrNoConversation = errors.New("execution has no conversation to write to")
)

// Sender persists and announces outbound messages.
type Sender interface {
	Send(ctx context.Context, message *models.Message) error
}

type Action struct {
	Content  string
	Metadata map[string]any

	sender Sender
}

func newAction(config map[string]any, sender Sender) (*Action, error) {
	content, _ := config["content"].(string)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	metadata, _ := config["metadata"].(map[string]any)

	return &Action{Content: content, Metadata: metadata, sender: sender}, nil
}

func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (protocol.ActionResult, error) {
	if actionCtx.ConversationID == "" {
		return protocol.Failed(ErrNoConversation), nil
	}

	metadata := make(map[string]any, len(a.Metadata)+3)
	for key, value := range a.Metadata {
		metadata[key] = value
	}

	metadata["workflow_id"] = actionCtx.WorkflowID
	metadata["execution_id"] = actionCtx.ExecutionID
	metadata["node_id"] = actionCtx.NodeID

	message := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: actionCtx.ConversationID,
		Sender:         models.SenderWorkflow,
		Content:        a.Content,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	err := a.sender.Send(ctx, message)
	if err != nil {
		logger.WarnContext(ctx, "Failed to send message",
			"module", "send_message_action",
			"conversation_id", actionCtx.ConversationID,
			"error", err)

		return protocol.Failed(fmt.Errorf("send message: %w", err)), nil
	}

	return protocol.Succeeded(map[string]any{
		"message_id": message.ID,
		"content":    message.Content,
	}), nil
}
