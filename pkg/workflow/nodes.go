package workflow

import (
	"context"
	"fmt"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/otelhelper"
	"github.com/dukex/engageflow/pkg/protocol"
	"github.com/dukex/engageflow/pkg/template"
	"go.opentelemetry.io/otel/attribute"
)

// visitWhen passes through: the trigger already matched when the node was queued.
func (e *Executor) visitWhen(_ context.Context, _ *run, _ *models.Node) (visit, error) {
	return visit{outcome: models.ConnectionTypeSuccess}, nil
}

func (e *Executor) visitCondition(ctx context.Context, r *run, node *models.Node) (visit, error) {
	if node.Condition == nil {
		return visit{}, fmt.Errorf("%w: condition node without condition", ErrMalformedNode)
	}

	outcome, err := e.evaluator.Evaluate(ctx, node.Condition, r.data())
	if err != nil {
		return visit{}, err
	}

	output := map[string]any{"passed": outcome.Passed}
	if outcome.ClauseID != "" {
		output["clause_id"] = outcome.ClauseID
	}

	if !outcome.Passed {
		return visit{outcome: models.ConnectionTypeFailure, output: output}, nil
	}

	return visit{outcome: models.ConnectionTypeSuccess, clauseID: outcome.ClauseID, output: output}, nil
}

func (e *Executor) visitAction(ctx context.Context, r *run, node *models.Node) (visit, error) {
	if node.Action == nil {
		return visit{}, fmt.Errorf("%w: action node without action", ErrMalformedNode)
	}

	actionType := node.Action.ActionType
	data := r.data()

	action, err := e.registry.CreateAction(actionType, template.RenderMap(node.Action.Config, data))
	if err != nil {
		return visit{}, fmt.Errorf("failed to create %s action: %w", actionType, err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.action",
		attribute.String(otelhelper.ActionTypeKey, string(actionType)))
	defer span.End()

	result, err := action.Execute(ctx, protocol.ActionContext{
		WorkflowID:     r.workflow.ID,
		ExecutionID:    r.execution.ID,
		NodeID:         node.ID,
		ConversationID: r.execution.ConversationID,
		Owner:          r.execution.Owner,
		Data:           data,
	}, r.logger.With("node_id", node.ID, "action_type", actionType))
	if err != nil {
		otelhelper.SetError(span, err)

		return visit{}, fmt.Errorf("%s action: %w", actionType, err)
	}

	step := make(map[string]any, len(result.Output)+1)
	for key, value := range result.Output {
		step[key] = value
	}

	step["success"] = result.Success
	r.execution.Context.Steps[node.ID] = step

	v := visit{output: result.Output, errMsg: result.Error}

	switch {
	case result.TimedOut:
		v.outcome = models.ConnectionTypeTimeout
	case !result.Success:
		v.outcome = models.ConnectionTypeFailure
	case result.Delay > 0:
		e.suspend(r, node, models.ContinuationDelay, result.Delay)
		v.suspended = true
	default:
		v.outcome = models.ConnectionTypeSuccess
	}

	label := string(v.outcome)
	if v.suspended {
		label = "delayed"
	}

	e.metrics.ActionDispatched(string(actionType), label)
	otelhelper.SetOutcome(span, label)

	if !result.Success {
		r.logger.WarnContext(ctx, "Action did not succeed",
			"node_id", node.ID,
			"action_type", actionType,
			"timed_out", result.TimedOut,
			"error", result.Error)
	}

	return v, nil
}

// visitWaiting prompts the counterparty and parks the branch. Re-entering a
// waiting node through a loop spends one unit of its error budget; an
// exhausted budget takes the failure edges.
func (e *Executor) visitWaiting(ctx context.Context, r *run, node *models.Node) (visit, error) {
	config := node.Waiting
	if config == nil {
		return visit{}, fmt.Errorf("%w: waiting node without waiting configuration", ErrMalformedNode)
	}

	retries := r.execution.Context.Retries

	if remaining, seen := retries[node.ID]; seen {
		if remaining <= 0 {
			return visit{outcome: models.ConnectionTypeFailure, errMsg: "retry budget exhausted"}, nil
		}

		retries[node.ID] = remaining - 1
	} else {
		retries[node.ID] = config.AllowedErrors
	}

	if r.execution.ConversationID == "" {
		return visit{outcome: models.ConnectionTypeFailure, errMsg: "waiting node needs a conversation"}, nil
	}

	err := e.say(ctx, r, node, promptText(config, r.data()))
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to send prompt", "node_id", node.ID, "error", err)

		return visit{outcome: models.ConnectionTypeFailure, errMsg: err.Error()}, nil
	}

	e.suspend(r, node, models.ContinuationWaiting, config.ResponseTimeout.Std())

	return visit{suspended: true, output: map[string]any{"waiting_for": storageLabel(config)}}, nil
}

// say writes a workflow message into the execution's conversation.
func (e *Executor) say(ctx context.Context, r *run, node *models.Node, content string) error {
	if content == "" {
		return nil
	}

	return e.sender.Send(ctx, &models.Message{
		ID:             newMessageID(),
		ConversationID: r.execution.ConversationID,
		Sender:         models.SenderWorkflow,
		Content:        content,
		Metadata: map[string]any{
			"workflow_id":  r.workflow.ID,
			"execution_id": r.execution.ID,
			"node_id":      node.ID,
		},
		CreatedAt: e.now().UTC(),
	})
}

func promptText(config *models.WaitingConfig, data map[string]any) string {
	prompt := template.RenderString(config.Prompt, data)

	if config.StorageType != models.StorageChoice || len(config.Options) == 0 {
		return prompt
	}

	text := prompt
	for i, option := range config.Options {
		if text != "" {
			text += "\n"
		}

		text += fmt.Sprintf("%d. %s", i+1, template.RenderString(option, data))
	}

	return text
}

func storageLabel(config *models.WaitingConfig) string {
	if config.StorageType == "" {
		return string(models.StorageText)
	}

	return string(config.StorageType)
}
