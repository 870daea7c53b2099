package workflow

import (
	"testing"
	"time"

	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func surveyWorkflow(owner string, allowedErrors int) *models.Workflow {
	return testutil.CreateTestWorkflow(owner, testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventMessageReceived, testutil.WithKeywords("help")),
			testutil.WaitingNode("ask", models.WaitingConfig{
				StorageType:     models.StorageChoice,
				Prompt:          "Which team, {{user.name}}?",
				Options:         []string{"Sales", "Support"},
				VariableName:    "department",
				AllowedErrors:   allowedErrors,
				ErrorMessage:    "Please answer 1 or 2.",
				ResponseTimeout: models.Duration(time.Hour),
			}),
			testutil.ActionNode("route", models.ActionSendMessage, map[string]any{"content": "Routing you to {{responses.department}}."}),
			testutil.ActionNode("give-up", models.ActionSendMessage, map[string]any{"content": "A human will take over."}),
			testutil.ActionNode("nudge", models.ActionSendMessage, map[string]any{"content": "Are you still there?"}),
		},
		testutil.Connect("start", "ask", models.ConnectionTypeSuccess),
		testutil.Connect("ask", "route", models.ConnectionTypeSuccess),
		testutil.Connect("ask", "give-up", models.ConnectionTypeFailure),
		testutil.Connect("ask", "nudge", models.ConnectionTypeTimeout),
	))
}

func TestWaiting_ValidResponse(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := surveyWorkflow("tenant-a", 1)
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "I need help"))

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	require.Len(t, execution.WaitingContinuations(), 1)
	assert.True(t, h.now.Add(time.Hour).Equal(execution.Continuations[0].ResumeAt))
	assert.Equal(t, []string{"Which team, Ana?\n1. Sales\n2. Support"}, h.messages("conv-1"))

	h.handle(testutil.MessageEvent("conv-1", "2"))

	execution = h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "Support", execution.Context.Responses["department"])
	assert.Equal(t, "Routing you to Support.", h.messages("conv-1")[1])

	// The timeout lost the race and never fires.
	assert.Zero(t, h.fireDue(h.now.Add(2*time.Hour)))
	assert.Len(t, h.messages("conv-1"), 2)
}

func TestWaiting_ConsumedMessageStartsNothing(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := surveyWorkflow("tenant-a", 0)
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "help"))
	h.handle(testutil.MessageEvent("conv-1", "help, sales"))

	// The answer went to the waiting branch even though it matches the trigger.
	assert.Len(t, h.executions(workflow.ID), 1)
}

func TestWaiting_RetryThenExhausted(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := surveyWorkflow("tenant-a", 1)
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "help"))
	h.handle(testutil.MessageEvent("conv-1", "maybe"))

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, 0, execution.Context.Retries["ask"])
	require.Len(t, execution.WaitingContinuations(), 1)
	assert.Equal(t, "Please answer 1 or 2.", h.messages("conv-1")[1])

	h.handle(testutil.MessageEvent("conv-1", "nope"))

	execution = h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []string{
		"Which team, Ana?\n1. Sales\n2. Support",
		"Please answer 1 or 2.",
		"A human will take over.",
	}, h.messages("conv-1"))
}

func TestWaiting_TimeoutFiresOnce(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := surveyWorkflow("tenant-a", 1)
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "help"))

	assert.Zero(t, h.fireDue(h.now.Add(30*time.Minute)))
	assert.Equal(t, 1, h.fireDue(h.now.Add(61*time.Minute)))
	assert.Zero(t, h.fireDue(h.now.Add(2*time.Hour)))

	execution := h.onlyExecution(workflow.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, "Are you still there?", h.messages("conv-1")[1])

	// A response after the timeout reaches no waiting branch.
	consumed, err := h.executor.DeliverResponse(h.ctx, "conv-1", "1")
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestWaiting_TimeoutWithoutTimeoutEdgeTakesFailure(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := surveyWorkflow("tenant-a", 1)
	workflow.Connections = workflow.Connections[:3]
	h.install(workflow)

	h.handle(testutil.MessageEvent("conv-1", "help"))
	assert.Equal(t, 1, h.fireDue(h.now.Add(2*time.Hour)))

	assert.Equal(t, "A human will take over.", h.messages("conv-1")[1])
}

func TestWaiting_ReentryThroughLoopSpendsBudget(t *testing.T) {
	h := newHarness(t)
	h.conversation("conv-1", "tenant-a")

	workflow := testutil.CreateTestWorkflow("tenant-a", testutil.WithGraph(
		[]*models.Node{
			testutil.WhenNode("start", models.EventConversationCreated),
			testutil.WaitingNode("email", models.WaitingConfig{
				StorageType:     models.StorageText,
				Prompt:          "What is your email?",
				VariableName:    "email",
				AllowedErrors:   1,
				ResponseTimeout: models.Duration(time.Hour),
			}),
			testutil.ConditionNode("check", models.CombinationAnd,
				models.Clause{Field: "responses.email", Operator: "contains", Value: "@"}),
			testutil.ActionNode("thanks", models.ActionSendMessage, map[string]any{"content": "Thanks!"}),
			testutil.ActionNode("escalate", models.ActionSendMessage, map[string]any{"content": "Escalating."}),
		},
		testutil.Connect("start", "email", models.ConnectionTypeSuccess),
		testutil.Connect("email", "check", models.ConnectionTypeSuccess),
		testutil.Connect("email", "escalate", models.ConnectionTypeFailure),
		testutil.Connect("check", "thanks", models.ConnectionTypeSuccess),
		testutil.Connect("check", "email", models.ConnectionTypeFailure),
	))
	h.install(workflow)

	h.handle(&models.EventLog{EventID: "evt-1", EventType: models.EventConversationCreated, ConversationID: "conv-1"})

	consumed, err := h.executor.DeliverResponse(h.ctx, "conv-1", "not an email")
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = h.executor.DeliverResponse(h.ctx, "conv-1", "still not")
	require.NoError(t, err)
	assert.True(t, consumed)

	assert.Equal(t, []string{"What is your email?", "What is your email?", "Escalating."}, h.messages("conv-1"))
	assert.Equal(t, models.ExecutionStatusCompleted, h.onlyExecution(workflow.ID).Status)
}

func TestValidateResponse(t *testing.T) {
	choice := &models.WaitingConfig{StorageType: models.StorageChoice, Options: []string{"Yes", "No"}}
	structured := &models.WaitingConfig{
		StorageType: models.StorageStructured,
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"age"},
			"properties": map[string]any{
				"age": map[string]any{"type": "integer"},
			},
		},
	}

	tests := []struct {
		name    string
		config  *models.WaitingConfig
		input   string
		want    any
		wantErr error
	}{
		{"text", &models.WaitingConfig{StorageType: models.StorageText}, "  hello ", "hello", nil},
		{"empty", &models.WaitingConfig{StorageType: models.StorageText}, "   ", nil, ErrEmptyResponse},
		{"choice by label", choice, "yes", "Yes", nil},
		{"choice by index", choice, "2", "No", nil},
		{"choice out of range", choice, "3", nil, ErrInvalidChoice},
		{"structured", structured, `{"age": 30}`, map[string]any{"age": float64(30)}, nil},
		{"structured schema mismatch", structured, `{"age": "thirty"}`, nil, ErrInvalidDocument},
		{"structured not json", structured, `age=30`, nil, ErrInvalidDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := validateResponse(tt.config, map[string]any{}, tt.input)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
