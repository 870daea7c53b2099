package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/otelhelper"
	"github.com/dukex/engageflow/pkg/schemas"
	"github.com/dukex/engageflow/pkg/template"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const defaultErrorMessage = "Sorry, I could not understand that. Please try again."

var (
	ErrEmptyResponse   = errors.New("response is empty")
	ErrInvalidChoice   = errors.New("response is not one of the options")
	ErrInvalidDocument = errors.New("response is not a valid document")
)

// DeliverResponse hands a counterparty message to the oldest waiting branch
// of the conversation. It reports whether a branch consumed the message. A
// branch whose wake-up was already claimed by its timeout is skipped, so a
// late response never resumes it twice.
func (e *Executor) DeliverResponse(ctx context.Context, conversationID, text string) (bool, error) {
	executions, err := e.executions.FindWaiting(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("failed to find waiting executions: %w", err)
	}

	for _, execution := range executions {
		for _, continuation := range execution.WaitingContinuations() {
			claimed, err := e.timers.Claim(ctx, continuation.ID)
			if err != nil {
				return false, fmt.Errorf("failed to claim continuation %s: %w", continuation.ID, err)
			}

			if !claimed {
				e.logger.DebugContext(ctx, "Continuation already claimed",
					"execution_id", execution.ID,
					"continuation_id", continuation.ID)

				continue
			}

			return true, e.respond(ctx, execution, continuation, text)
		}
	}

	return false, nil
}

func (e *Executor) respond(ctx context.Context, execution *models.WorkflowExecution, pending models.Continuation, text string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.respond",
		attribute.String(otelhelper.WorkflowIDKey, execution.WorkflowID),
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.NodeIDKey, pending.NodeID),
		attribute.String(otelhelper.ConversationIDKey, execution.ConversationID),
	)
	defer span.End()

	r, node, fatal := e.load(ctx, execution, pending)
	if fatal == nil && node.Waiting == nil {
		fatal = fmt.Errorf("%w: waiting node without waiting configuration", ErrMalformedNode)
	}

	if fatal != nil {
		return e.finish(ctx, r, fatal)
	}

	execution.RemoveContinuation(pending.ID)

	config := node.Waiting
	data := r.data()

	var targets []string

	value, invalid := validateResponse(config, data, text)

	switch {
	case invalid == nil:
		key := config.VariableName
		if key == "" {
			key = node.ID
		}

		execution.Context.Responses[key] = value

		v := visit{outcome: models.ConnectionTypeSuccess, output: map[string]any{"response": value}}
		e.record(r, node, v)

		targets, fatal = e.next(r.workflow, node, v)
	case execution.Context.Retries[node.ID] > 0:
		execution.Context.Retries[node.ID]--

		r.logger.InfoContext(ctx, "Invalid response, asking again",
			"node_id", node.ID,
			"remaining", execution.Context.Retries[node.ID],
			"error", invalid)

		message := template.RenderString(config.ErrorMessage, data)
		if message == "" {
			message = defaultErrorMessage
		}

		err := e.say(ctx, r, node, message)
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to send error message", "node_id", node.ID, "error", err)
		}

		e.suspend(r, node, models.ContinuationWaiting, config.ResponseTimeout.Std())
		e.record(r, node, visit{suspended: true, errMsg: invalid.Error()})
	default:
		r.logger.InfoContext(ctx, "Invalid response, error budget exhausted", "node_id", node.ID, "error", invalid)

		v := visit{outcome: models.ConnectionTypeFailure, errMsg: invalid.Error()}
		e.record(r, node, v)

		targets, fatal = e.next(r.workflow, node, v)
	}

	if fatal == nil {
		fatal = e.walk(ctx, r, targets)
	}

	if fatal != nil {
		otelhelper.SetError(span, fatal)
	}

	return e.finish(ctx, r, fatal)
}

// validateResponse checks text against the node's storage type and returns
// the value to store.
func validateResponse(config *models.WaitingConfig, data map[string]any, text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyResponse
	}

	switch config.StorageType {
	case models.StorageChoice:
		for _, option := range config.Options {
			rendered := template.RenderString(option, data)
			if strings.EqualFold(rendered, trimmed) {
				return rendered, nil
			}
		}

		index, err := strconv.Atoi(trimmed)
		if err == nil && index >= 1 && index <= len(config.Options) {
			return template.RenderString(config.Options[index-1], data), nil
		}

		return nil, fmt.Errorf("%w: %q", ErrInvalidChoice, trimmed)
	case models.StorageStructured:
		var document any

		err := json.Unmarshal([]byte(trimmed), &document)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
		}

		if len(config.Schema) > 0 {
			err = schemas.ValidateJSON(config.Schema, []byte(trimmed))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
			}
		}

		return document, nil
	default:
		return trimmed, nil
	}
}

func newMessageID() string {
	return uuid.NewString()
}
