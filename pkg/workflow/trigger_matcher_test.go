package workflow

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerMatcher_Criteria(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	tagged := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph([]*models.Node{
		testutil.WhenNode("start", models.EventTagAdded, testutil.WithTags("Hot-Lead")),
	}))
	telegram := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph([]*models.Node{
		testutil.WhenNode("start", models.EventTagAdded, func(c *models.WhenConfig) { c.Channels = []string{"telegram"} }),
	}))
	whatsapp := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph([]*models.Node{
		testutil.WhenNode("start", models.EventTagAdded, func(c *models.WhenConfig) { c.Channels = []string{"WhatsApp"} }),
	}))
	paused := testutil.CreateTestWorkflow("tenant-a",
		testutil.WithStatus(models.WorkflowStatusPaused),
		testutil.WithGraph([]*models.Node{testutil.WhenNode("start", models.EventTagAdded)}))

	for _, workflow := range []*models.Workflow{tagged, telegram, whatsapp, paused} {
		h.install(workflow)
	}

	matcher := NewTriggerMatcher(h.persistence, h.store, slog.Default())

	candidates, err := matcher.Match(h.ctx, &models.EventLog{
		EventID:        "evt-1",
		EventType:      models.EventTagAdded,
		ConversationID: "conv-1",
		Data:           map[string]any{"tag": "hot-lead"},
	})
	require.NoError(t, err)

	matched := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		matched = append(matched, candidate.Workflow.ID)
		assert.Equal(t, "conv-1", candidate.Conversation.ID)
	}

	assert.ElementsMatch(t, []string{tagged.ID, whatsapp.ID}, matched)
}

func TestTriggerMatcher_ValidityWindow(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	future := time.Now().Add(24 * time.Hour)
	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph([]*models.Node{
		testutil.WhenNode("start", models.EventConversationCreated),
	}), func(w *models.Workflow) { w.StartDate = &future })
	h.install(workflow)

	matcher := NewTriggerMatcher(h.persistence, h.store, slog.Default())

	candidates, err := matcher.Match(h.ctx, &models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestTriggerMatcher_StaleAssociationAcrossTenants(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	foreign := testutil.CreateTestWorkflow("tenant-b", testutil.WithGraph([]*models.Node{
		testutil.WhenNode("start", models.EventConversationCreated),
	}))
	require.NoError(t, h.persistence.WorkflowRepository().Save(h.ctx, foreign))

	trigger := &models.Trigger{Owner: "tenant-a", TriggerType: models.EventConversationCreated, IsActive: true}
	require.NoError(t, h.persistence.TriggerRepository().Save(h.ctx, trigger))
	require.NoError(t, h.persistence.TriggerRepository().SaveAssociation(h.ctx, &models.TriggerWorkflowAssociation{
		TriggerID:  trigger.ID,
		WorkflowID: foreign.ID,
		IsActive:   true,
	}))

	matcher := NewTriggerMatcher(h.persistence, h.store, slog.Default())

	candidates, err := matcher.Match(h.ctx, &models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})
	require.NoError(t, err)
	assert.Empty(t, candidates)
}
