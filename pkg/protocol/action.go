// Package protocol defines the contracts between the graph executor and the
// pluggable action implementations.
package protocol

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/models"
)

// ActionContext identifies where an action runs and exposes the execution
// data its configuration was rendered against.
type ActionContext struct {
	WorkflowID     string
	ExecutionID    string
	NodeID         string
	ConversationID string
	Owner          string
	Data           map[string]any
}

// ActionResult is the outcome of one action dispatch. A positive Delay asks
// the executor to suspend the branch and resume it along its success edges.
type ActionResult struct {
	Success  bool
	Output   map[string]any
	Error    string
	TimedOut bool
	Delay    time.Duration
}

// Succeeded builds a successful result.
func Succeeded(output map[string]any) ActionResult {
	return ActionResult{Success: true, Output: output}
}

// Failed builds a failed result carrying err's message.
func Failed(err error) ActionResult {
	return ActionResult{Success: false, Error: err.Error()}
}

// Action executes one action node. Runtime failures are reported through
// ActionResult; a returned error means the node is misconfigured and the
// execution cannot continue.
type Action interface {
	Execute(ctx context.Context, actionCtx ActionContext, logger *slog.Logger) (ActionResult, error)
}

// ActionFactory parses a rendered configuration into an Action.
type ActionFactory interface {
	Create(config map[string]any) (Action, error)
	Type() models.ActionType
	// Schema returns the JSON schema the unrendered configuration must satisfy.
	Schema() map[string]any
}
