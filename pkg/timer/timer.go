// Package timer schedules durable wake-ups for suspended workflow branches.
package timer

import (
	"context"
	"time"

	"github.com/dukex/engageflow/pkg/models"
)

// WakeUp asks for a continuation to be resumed at DueAt.
type WakeUp struct {
	ID             string                  `json:"id"`
	ExecutionID    string                  `json:"execution_id"`
	ConversationID string                  `json:"conversation_id,omitempty"`
	NodeID         string                  `json:"node_id"`
	Kind           models.ContinuationKind `json:"kind"`
	DueAt          time.Time               `json:"due_at"`
}

// Store keeps pending wake-ups. Claim is the single arbitration point between
// every party that may resume a continuation: exactly one caller gets true.
type Store interface {
	Schedule(ctx context.Context, wakeUp WakeUp) error
	Claim(ctx context.Context, id string) (bool, error)
	// ClaimDue claims up to limit wake-ups whose DueAt is not after now.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]WakeUp, error)
}
