package workflow

import (
	"testing"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vipWorkflow(owner string) *models.Workflow {
	return testutil.CreateTestWorkflow(owner, testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventMessageReceived, testutil.WithKeywords("upgrade")),
			testutil.ConditionNode("route", models.CombinationOr,
				models.Clause{ID: "vip", Field: "conversation.tags", Operator: "contains", Value: "vip"},
				models.Clause{ID: "enterprise", Field: "event.data.content", Operator: "contains", Value: "enterprise"},
			),
			testutil.ActionNode("tag", models.ActionAddTag, map[string]any{"tag": "priority"}),
			testutil.ActionNode("greet-vip", models.ActionSendMessage, map[string]any{"content": "Hi {{user.name}}, a specialist will reach out."}),
			testutil.ActionNode("greet-enterprise", models.ActionSendMessage, map[string]any{"content": "Our enterprise team will call you."}),
			testutil.ActionNode("greet-default", models.ActionSendMessage, map[string]any{"content": "Here is our pricing page."}),
		},
		testutil.Connect("start", "route", models.ConnectionTypeSuccess),
		testutil.ConnectOnClause("route", "tag", "vip"),
		testutil.ConnectOnClause("route", "greet-enterprise", "enterprise"),
		testutil.Connect("route", "greet-default", models.ConnectionTypeFailure),
		testutil.Connect("tag", "greet-vip", models.ConnectionTypeSuccess),
	))
}

func TestEngine_VIPUpgrade(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a", "vip")

	workflow := vipWorkflow("tenant-a")
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "I want to upgrade to enterprise"))

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"start", "route", "tag", "greet-vip"}, visited(execution))
	assert.Empty(t, execution.Continuations)
	require.NotNil(t, execution.FinishedAt)

	assert.Equal(t, []string{"Hi Ana, a specialist will reach out."}, h.messages("conv-1"))

	conversation, err := h.store.Conversation(h.ctx, "conv-1")
	require.NoError(t, err)
	assert.Contains(t, conversation.Tags, "priority")

	stored, err := h.persistence.WorkflowRepository().GetByID(h.ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ExecutionCount)
}

func TestEngine_OrFallsThroughToFailure(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := vipWorkflow("tenant-a")
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "can I upgrade?"))

	assert.Equal(t, []string{"Here is our pricing page."}, h.messages("conv-1"))
	assert.Equal(t, []string{"start", "route", "greet-default"}, visited(h.onlyExecution(workflow.ID)))
}

func TestEngine_KeywordMismatchStartsNothing(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a", "vip")

	workflow := vipWorkflow("tenant-a")
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "just saying hello"))

	assert.Empty(t, h.executions(workflow.ID))
	assert.Empty(t, h.messages("conv-1"))
}

func TestEngine_OwnershipIsolation(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-a", "tenant-a", "vip")
	h.conversation("conv-b", "tenant-b", "vip")

	mine := vipWorkflow("tenant-a")
	theirs := vipWorkflow("tenant-b")
	h.install(mine)
	h.install(theirs)

	h.handle(testutil.MessageEvent("conv-a", "upgrade please"))

	assert.Len(t, h.executions(mine.ID), 1)
	assert.Empty(t, h.executions(theirs.ID))

	// A tenant claiming a conversation it does not own is dropped.
	spoofed := testutil.MessageEvent("conv-a", "upgrade please")
	spoofed.TenantID = "tenant-b"
	h.handle(spoofed)

	assert.Len(t, h.executions(mine.ID), 1)
	assert.Empty(t, h.executions(theirs.ID))

	// Unknown conversations fail closed.
	h.handle(testutil.MessageEvent("conv-unknown", "upgrade please"))
	assert.Len(t, h.executions(mine.ID), 1)
}

func TestEngine_RedeliveredEventIsIgnored(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a", "vip")

	workflow := vipWorkflow("tenant-a")
	h.install(workflow)

	event := testutil.MessageEvent("conv-1", "upgrade")
	h.handle(event)
	h.handle(event)

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, ExecutionID(workflow.ID, event.EventID), execution.ID)
	assert.Len(t, h.messages("conv-1"), 1)

	stored, err := h.persistence.WorkflowRepository().GetByID(h.ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.ExecutionCount)
}

func TestEngine_ExecutionCap(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")
	h.conversation("conv-2", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a",
		testutil.WithMaxExecutions(1),
		testutil.WithGraph(
			[]*models.Node{
				testutil.WhenNode("start", models.EventMessageReceived),
				testutil.ActionNode("reply", models.ActionSendMessage, map[string]any{"content": "Welcome!"}),
			},
			testutil.Connect("start", "reply", models.ConnectionTypeSuccess),
		))
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "hi"))
	h.handle(testutil.MessageEvent("conv-2", "hi"))

	assert.Len(t, h.executions(workflow.ID), 1)
	assert.Len(t, h.messages("conv-1"), 1)
	assert.Empty(t, h.messages("conv-2"))
}

func TestExecutor_DelayBetweenExecutions(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")
	h.conversation("conv-2", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a",
		testutil.WithDelayBetweenExecutions(time.Hour),
		testutil.WithGraph(
			[]*models.Node{
				testutil.WhenNode("start", models.EventMessageReceived),
				testutil.ActionNode("reply", models.ActionSendMessage, map[string]any{"content": "Welcome!"}),
			},
			testutil.Connect("start", "reply", models.ConnectionTypeSuccess),
		))
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "hi"))

	h.now = h.now.Add(10 * time.Minute)
	h.handle(testutil.MessageEvent("conv-1", "hi again"))
	h.handle(testutil.MessageEvent("conv-2", "hi"))

	assert.Len(t, h.messages("conv-1"), 1)
	assert.Len(t, h.messages("conv-2"), 1)

	h.now = h.now.Add(2 * time.Hour)
	h.handle(testutil.MessageEvent("conv-1", "back"))

	assert.Len(t, h.messages("conv-1"), 2)
	assert.Len(t, h.executions(workflow.ID), 3)
}

func TestExecutor_DelayActionResumes(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
			testutil.ActionNode("wait", models.ActionDelay, map[string]any{"duration": "10m"}),
			testutil.ActionNode("follow-up", models.ActionSendMessage, map[string]any{"content": "Still interested?"}),
		},
		testutil.Connect("start", "wait", models.ConnectionTypeSuccess),
		testutil.Connect("wait", "follow-up", models.ConnectionTypeSuccess),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	require.Len(t, execution.Continuations, 1)
	assert.Equal(t, models.ContinuationDelay, execution.Continuations[0].Kind)
	assert.Empty(t, h.messages("conv-1"))

	assert.Zero(t, h.fireDue(h.now.Add(5*time.Minute)))
	assert.Equal(t, 1, h.fireDue(h.now.Add(11*time.Minute)))

	execution = h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"Still interested?"}, h.messages("conv-1"))

	// A wake-up fires at most once.
	assert.Zero(t, h.fireDue(h.now.Add(time.Hour)))
}

func TestExecutor_ParallelBranchesFinishTogether(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
			testutil.ActionNode("now", models.ActionSendMessage, map[string]any{"content": "Hello!"}),
			testutil.ActionNode("wait", models.ActionDelay, map[string]any{"duration": 60}),
			testutil.ActionNode("later", models.ActionSendMessage, map[string]any{"content": "Anything else?"}),
		},
		testutil.Connect("start", "now", models.ConnectionTypeSuccess),
		testutil.Connect("start", "wait", models.ConnectionTypeSuccess),
		testutil.Connect("wait", "later", models.ConnectionTypeSuccess),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	assert.Equal(t, []string{"Hello!"}, h.messages("conv-1"))
	assert.Equal(t, models.ExecutionStatusRunning, h.onlyExecution(workflow.ID).Status)

	assert.Equal(t, 1, h.fireDue(h.now.Add(2*time.Minute)))
	assert.Equal(t, []string{"Hello!", "Anything else?"}, h.messages("conv-1"))
	assert.Equal(t, models.ExecutionStatusCompleted, h.onlyExecution(workflow.ID).Status)
}

func TestExecutor_VisitBudget(t *testing.T) {
	h := newHarness(t, WithMaxSteps(10))
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
			testutil.ActionNode("loop", models.ActionAddTag, map[string]any{"tag": "looping"}),
		},
		testutil.Connect("start", "loop", models.ConnectionTypeSuccess),
		testutil.Connect("loop", "loop", models.ConnectionTypeSuccess),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, ErrVisitBudgetExhausted.Error())
	assert.Len(t, execution.Results, 10)
}

func TestExecutor_DanglingConnectionFails(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
		},
		testutil.Connect("start", "ghost", models.ConnectionTypeSuccess),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, ErrDanglingConnection.Error())
}

func TestExecutor_InactiveNodeIsSkipped(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	muted := testutil.ActionNode("muted", models.ActionSendMessage, map[string]any{"content": "never sent"})
	muted.IsActive = false

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
			muted,
			testutil.ActionNode("after", models.ActionSendMessage, map[string]any{"content": "after the muted node"}),
		},
		testutil.Connect("start", "muted", models.ConnectionTypeSuccess),
		testutil.Connect("muted", "after", models.ConnectionTypeSuccess),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, models.ConnectionTypeSkip, execution.Results[1].Outcome)
	assert.Equal(t, []string{"after the muted node"}, h.messages("conv-1"))
}

func TestExecutor_ActionFailureFollowsFailureEdges(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
			testutil.ActionNode("hook", models.ActionWebhook, map[string]any{"url": "http://127.0.0.1:1/unreachable"}),
			testutil.ActionNode("sorry", models.ActionSendMessage, map[string]any{"content": "We will get back to you."}),
		},
		testutil.Connect("start", "hook", models.ConnectionTypeSuccess),
		testutil.Connect("hook", "sorry", models.ConnectionTypeFailure),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{"We will get back to you."}, h.messages("conv-1"))
	assert.Equal(t, false, execution.Context.Steps["hook"]["success"])
}

func TestExecutor_ResumeIgnoresUnknownContinuation(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.executor.Resume(h.ctx, "missing-execution", "missing-continuation"))
}

func TestEngine_ScheduledTickTargetsItsNode(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("morning", models.EventScheduledTick, testutil.WithSchedule("0 9 * * *")),
			testutil.WhenNode("evening", models.EventScheduledTick, testutil.WithSchedule("0 18 * * *")),
			testutil.ActionNode("report", models.ActionSetConversationStatus, map[string]any{"status": "{{event.data.node_id}}"}),
		},
		testutil.Connect("morning", "report", models.ConnectionTypeSuccess),
		testutil.Connect("evening", "report", models.ConnectionTypeSuccess),
	))
	h.install(workflow)

	h.handle(&models.EventLog{
		EventID:   "scheduled:" + workflow.ID + ":evening:1767600000",
		EventType: models.EventScheduledTick,
		TenantID:  "tenant-a",
		Data:      map[string]any{"workflow_id": workflow.ID, "node_id": "evening"},
	})

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, []string{"evening", "report"}, visited(execution))

	// Without a conversation the status update fails and no edge leaves the node.
	assert.Equal(t, models.ConnectionTypeFailure, execution.Results[1].Outcome)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}
