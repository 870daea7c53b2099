package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/models"
)

// Engine routes logged events and due wake-ups to the executor.
type Engine struct {
	matcher  *TriggerMatcher
	executor *Executor
	logger   *slog.Logger
}

func NewEngine(matcher *TriggerMatcher, executor *Executor, logger *slog.Logger) *Engine {
	return &Engine{
		matcher:  matcher,
		executor: executor,
		logger:   logger.With("module", "workflow_engine"),
	}
}

// HandleEvent processes one logged event. An inbound message is first offered
// to the conversation's waiting branches; a consumed message starts nothing.
// Every matched workflow is started even when another one fails.
func (e *Engine) HandleEvent(ctx context.Context, event *models.EventLog) error {
	logger := e.logger.With("event_id", event.EventID, "event_type", event.EventType)

	if event.EventType == models.EventMessageReceived && event.ConversationID != "" {
		content, _ := event.Data["content"].(string)

		consumed, err := e.executor.DeliverResponse(ctx, event.ConversationID, content)
		if err != nil {
			return fmt.Errorf("failed to deliver response: %w", err)
		}

		if consumed {
			logger.InfoContext(ctx, "Message consumed by a waiting branch")

			return nil
		}
	}

	candidates, err := e.matcher.Match(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to match event: %w", err)
	}

	logger.DebugContext(ctx, "Matched workflows", "count", len(candidates))

	var errs []error

	for _, candidate := range candidates {
		_, err := e.executor.Start(ctx, candidate, event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to start workflow",
				"workflow_id", candidate.Workflow.ID,
				"error", err)

			errs = append(errs, fmt.Errorf("workflow %s: %w", candidate.Workflow.ID, err))
		}
	}

	return errors.Join(errs...)
}

// HandleContinuationDue resumes the branch whose wake-up fired.
func (e *Engine) HandleContinuationDue(ctx context.Context, due events.ContinuationDue) error {
	return e.executor.Resume(ctx, due.ExecutionID, due.ContinuationID)
}
