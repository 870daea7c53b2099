package workflow

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	conversationactions "github.com/dukex/engageflow/pkg/actions/conversation"
	"github.com/dukex/engageflow/pkg/actions/delay"
	"github.com/dukex/engageflow/pkg/actions/sendmessage"
	"github.com/dukex/engageflow/pkg/actions/webhook"
	"github.com/dukex/engageflow/pkg/conditions"
	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/mocks"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/persistence/file"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/dukex/engageflow/pkg/timer"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// harness wires the engine over file persistence, an in-memory conversation
// store and a miniredis timer store, with a clock the test moves by hand.
type harness struct {
	t           *testing.T
	ctx         context.Context
	persistence *file.Persistence
	store       *conversations.MemoryStore
	bus         *mocks.MockEventBus
	timers      *timer.RedisStore
	executor    *Executor
	engine      *Engine
	now         time.Time
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		t:           t,
		ctx:         context.Background(),
		persistence: file.NewPersistence(t.TempDir()),
		store:       conversations.NewMemoryStore(),
		bus:         &mocks.MockEventBus{},
		now:         time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC),
	}

	h.bus.On("GenerateID").Return("evt-id")
	h.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	h.timers = timer.NewRedisStore(client)

	logger := slog.Default()
	outbox := conversations.NewOutbox(h.store, h.bus, logger)

	actions := registry.NewRegistry(logger)
	actions.RegisterAction(sendmessage.NewActionFactory(outbox))
	actions.RegisterAction(conversationactions.NewAddTagFactory(h.store))
	actions.RegisterAction(conversationactions.NewSetStatusFactory(h.store))
	actions.RegisterAction(delay.NewActionFactory())
	actions.RegisterAction(webhook.NewActionFactory(http.DefaultClient, webhook.NewBreakers(logger)))

	options := []Option{
		WithPublisher(h.bus),
		WithClock(func() time.Time { return h.now }),
	}

	h.executor = NewExecutor(h.persistence, actions, conditions.NewEvaluator(logger), outbox, h.timers, logger,
		append(options, opts...)...)
	h.engine = NewEngine(NewTriggerMatcher(h.persistence, h.store, logger), h.executor, logger)

	return h
}

func (h *harness) conversation(id, owner string, tags ...string) {
	h.t.Helper()

	require.NoError(h.t, h.store.SaveConversation(h.ctx, &models.Conversation{
		ID:      id,
		Owner:   owner,
		Channel: "whatsapp",
		Status:  "open",
		Tags:    tags,
		Contact: map[string]any{"name": "Ana"},
	}))
}

// install stores workflow and links it to its owner's triggers.
func (h *harness) install(workflow *models.Workflow) {
	h.t.Helper()

	require.NoError(h.t, h.persistence.WorkflowRepository().Save(h.ctx, workflow))

	triggers := h.persistence.TriggerRepository()

	for _, eventType := range workflow.EventTypes() {
		trigger, err := triggers.GetByOwnerAndType(h.ctx, workflow.Owner, eventType)
		if errors.Is(err, persistence.ErrTriggerNotFound) {
			trigger = &models.Trigger{Owner: workflow.Owner, TriggerType: eventType, Name: string(eventType), IsActive: true}
			err = triggers.Save(h.ctx, trigger)
		}

		require.NoError(h.t, err)
		require.NoError(h.t, triggers.SaveAssociation(h.ctx, &models.TriggerWorkflowAssociation{
			TriggerID:  trigger.ID,
			WorkflowID: workflow.ID,
			IsActive:   true,
		}))
	}
}

func (h *harness) handle(event *models.EventLog) {
	h.t.Helper()

	require.NoError(h.t, h.engine.HandleEvent(h.ctx, event))
}

func (h *harness) messages(conversationID string) []string {
	h.t.Helper()

	messages, err := h.store.Messages(h.ctx, conversationID)
	require.NoError(h.t, err)

	contents := make([]string, 0, len(messages))
	for _, message := range messages {
		contents = append(contents, message.Content)
	}

	return contents
}

func (h *harness) executions(workflowID string) []*models.WorkflowExecution {
	h.t.Helper()

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(h.ctx, workflowID, 0)
	require.NoError(h.t, err)

	return executions
}

func (h *harness) onlyExecution(workflowID string) *models.WorkflowExecution {
	h.t.Helper()

	executions := h.executions(workflowID)
	require.Len(h.t, executions, 1)

	return executions[0]
}

// fireDue claims the wake-ups due at and resumes their branches.
func (h *harness) fireDue(at time.Time) int {
	h.t.Helper()

	wakeUps, err := h.timers.ClaimDue(h.ctx, at, 100)
	require.NoError(h.t, err)

	for _, wakeUp := range wakeUps {
		require.NoError(h.t, h.engine.HandleContinuationDue(h.ctx, events.ContinuationDue{
			ExecutionID:    wakeUp.ExecutionID,
			ContinuationID: wakeUp.ID,
			ConversationID: wakeUp.ConversationID,
			NodeID:         wakeUp.NodeID,
			Kind:           wakeUp.Kind,
		}))
	}

	return len(wakeUps)
}

func visited(execution *models.WorkflowExecution) []string {
	nodes := make([]string, 0, len(execution.Results))
	for _, result := range execution.Results {
		nodes = append(nodes, result.NodeID)
	}

	return nodes
}
