// Package workflow matches logged events to tenant workflows and walks their
// graphs.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/engageflow/pkg/conditions"
	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
)

// Candidate is a workflow to start for an event, with the When nodes the
// event satisfied.
type Candidate struct {
	Workflow     *models.Workflow
	WhenNodes    []*models.Node
	Conversation *models.Conversation
}

// TriggerMatcher finds the workflows of the event's owner that listen to it.
type TriggerMatcher struct {
	triggers      persistence.TriggerRepository
	workflows     persistence.WorkflowRepository
	conversations conversations.Store
	logger        *slog.Logger
	now           func() time.Time
}

func NewTriggerMatcher(p persistence.Persistence, store conversations.Store, logger *slog.Logger) *TriggerMatcher {
	return &TriggerMatcher{
		triggers:      p.TriggerRepository(),
		workflows:     p.WorkflowRepository(),
		conversations: store,
		logger:        logger.With("module", "trigger_matcher"),
		now:           time.Now,
	}
}

// Match returns the eligible workflows owned by the event's owner, in the
// order their triggers were found. An owner that cannot be resolved yields
// no candidates.
func (m *TriggerMatcher) Match(ctx context.Context, event *models.EventLog) ([]Candidate, error) {
	logger := m.logger.With("event_id", event.EventID, "event_type", event.EventType)

	owner, conversation, err := m.resolveOwner(ctx, event)
	if err != nil {
		return nil, err
	}

	if owner == "" {
		logger.WarnContext(ctx, "Dropping event without a resolvable owner",
			"conversation_id", event.ConversationID,
			"tenant_id", event.TenantID)

		return nil, nil
	}

	triggers, err := m.triggers.ActiveByType(ctx, event.EventType)
	if err != nil {
		return nil, fmt.Errorf("failed to load triggers: %w", err)
	}

	now := m.now()
	seen := make(map[string]bool)
	candidates := make([]Candidate, 0)

	for _, trigger := range triggers {
		if trigger.Owner != owner {
			continue
		}

		associations, err := m.triggers.AssociationsByTrigger(ctx, trigger.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load associations of trigger %s: %w", trigger.ID, err)
		}

		for _, association := range associations {
			if !association.IsActive || seen[association.WorkflowID] {
				continue
			}

			seen[association.WorkflowID] = true

			workflow, err := m.workflows.GetByID(ctx, association.WorkflowID)
			if err != nil {
				if persistence.IsWorkflowNotFound(err) {
					continue
				}

				return nil, fmt.Errorf("failed to load workflow %s: %w", association.WorkflowID, err)
			}

			// The association may be stale; ownership is checked on the workflow itself.
			if workflow.Owner != owner || !workflow.Eligible(now) {
				continue
			}

			whenNodes := matchingWhenNodes(workflow, event, conversation)
			if len(whenNodes) == 0 {
				continue
			}

			candidates = append(candidates, Candidate{
				Workflow:     workflow,
				WhenNodes:    whenNodes,
				Conversation: conversation,
			})
		}
	}

	logger.DebugContext(ctx, "Matched event", "owner", owner, "candidates", len(candidates))

	return candidates, nil
}

// resolveOwner returns the conversation owner, or the event tenant for
// conversation-less events. An event whose tenant contradicts its
// conversation's owner resolves to no owner.
func (m *TriggerMatcher) resolveOwner(ctx context.Context, event *models.EventLog) (string, *models.Conversation, error) {
	if event.ConversationID == "" {
		return event.TenantID, nil, nil
	}

	conversation, err := m.conversations.Conversation(ctx, event.ConversationID)
	if err != nil {
		if conversations.IsNotFound(err) {
			return "", nil, nil
		}

		return "", nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	if event.TenantID != "" && event.TenantID != conversation.Owner {
		m.logger.WarnContext(ctx, "Event tenant does not own its conversation",
			"event_id", event.EventID,
			"conversation_id", conversation.ID)

		return "", nil, nil
	}

	return conversation.Owner, conversation, nil
}

func matchingWhenNodes(workflow *models.Workflow, event *models.EventLog, conversation *models.Conversation) []*models.Node {
	nodes := make([]*models.Node, 0)

	for _, node := range workflow.WhenNodes() {
		if !node.IsActive || node.When == nil || node.When.WhenType != event.EventType {
			continue
		}

		if whenMatches(workflow.ID, node, event, conversation) {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

func whenMatches(workflowID string, node *models.Node, event *models.EventLog, conversation *models.Conversation) bool {
	config := node.When

	if event.EventType == models.EventScheduledTick {
		return event.StringData("workflow_id") == workflowID && event.StringData("node_id") == node.ID
	}

	if len(config.Keywords) > 0 && !conditions.MatchesKeyword(event.StringData("content"), config.Keywords) {
		return false
	}

	if len(config.Tags) > 0 && !containsFold(config.Tags, event.StringData("tag")) {
		return false
	}

	if len(config.Channels) > 0 {
		channel := event.StringData("channel")
		if channel == "" && conversation != nil {
			channel = conversation.Channel
		}

		if !containsFold(config.Channels, channel) {
			return false
		}
	}

	return true
}

func containsFold(values []string, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}

	return slices.ContainsFunc(values, func(candidate string) bool {
		return strings.EqualFold(strings.TrimSpace(candidate), value)
	})
}
