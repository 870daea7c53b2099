// Package delay provides the action that suspends a branch for a duration or
// until a point in time.
package delay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/protocol"
)

var (
	ErrMissingDelay = errors.New("delay needs either duration or until")
	ErrInvalidDelay = errors.New("invalid delay")
)

// Action computes how long the executor must suspend the branch. A deadline
// already in the past resumes immediately.
type Action struct {
	Duration time.Duration
	Until    *time.Time

	now func() time.Time
}

func newAction(config map[string]any, now func() time.Time) (*Action, error) {
	action := &Action{now: now}

	if raw, ok := config["until"]; ok && raw != nil && raw != "" {
		text, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("%w: until must be an RFC 3339 timestamp", ErrInvalidDelay)
		}

		until, err := time.Parse(time.RFC3339, text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDelay, err)
		}

		action.Until = &until

		return action, nil
	}

	raw, ok := config["duration"]
	if !ok {
		return nil, ErrMissingDelay
	}

	duration, err := models.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDelay, err)
	}

	if duration < 0 {
		return nil, fmt.Errorf("%w: negative duration %s", ErrInvalidDelay, duration)
	}

	action.Duration = duration

	return action, nil
}

func (a *Action) Execute(ctx context.Context, _ protocol.ActionContext, logger *slog.Logger) (protocol.ActionResult, error) {
	wait := a.Duration
	if a.Until != nil {
		wait = max(a.Until.Sub(a.now()), 0)
	}

	resumeAt := a.now().Add(wait).UTC()

	logger.DebugContext(ctx, "Delaying branch", "module", "delay_action", "wait", wait)

	return protocol.ActionResult{
		Success: true,
		Delay:   wait,
		Output: map[string]any{
			"delay_seconds": wait.Seconds(),
			"resume_at":     resumeAt.Format(time.RFC3339),
		},
	}, nil
}
