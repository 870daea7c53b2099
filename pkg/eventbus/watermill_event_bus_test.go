package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/engageflow/pkg/channels/gochannel"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) EventBus {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub, logger)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan *events.EventLogged, 1)

	require.NoError(t, bus.Handle(events.EventLoggedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.EventLogged)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	published := events.EventLogged{
		BaseEvent: events.NewBaseEvent(bus.GenerateID(), events.EventLoggedEvent),
		EventLog: &models.EventLog{
			EventID:        "evt-1",
			EventType:      models.EventMessageReceived,
			ConversationID: "conv-1",
			Data:           map[string]any{"content": "hello"},
		},
	}

	require.NoError(t, bus.Publish(ctx, "conv-1", published))

	select {
	case got := <-received:
		assert.Equal(t, "evt-1", got.EventLog.EventID)
		assert.Equal(t, "hello", got.EventLog.Data["content"])
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	received := make(chan struct{}, 1)

	require.NoError(t, bus.Handle(events.WorkflowActivatedEvent, func(context.Context, any) error {
		received <- struct{}{}

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowDeactivated{WorkflowID: "wf-1"}))
	require.NoError(t, bus.Publish(ctx, "wf-1", events.WorkflowActivated{WorkflowID: "wf-1", Owner: "tenant-a"}))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("activated event was not delivered")
	}

	assert.Empty(t, received)
}

func TestWatermillEventBus_KeepsPublishOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)

	var (
		mu       sync.Mutex
		received []string
	)

	require.NoError(t, bus.Handle(events.EventLoggedEvent, func(_ context.Context, event any) error {
		mu.Lock()
		defer mu.Unlock()

		received = append(received, event.(*events.EventLogged).EventLog.EventID)

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	published := make([]string, 0, 500)

	for i := range 500 {
		id := fmt.Sprintf("evt-%03d", i)
		published = append(published, id)

		require.NoError(t, bus.Publish(ctx, "conv-1", events.EventLogged{
			BaseEvent: events.NewBaseEvent(bus.GenerateID(), events.EventLoggedEvent),
			EventLog:  &models.EventLog{EventID: id, EventType: models.EventMessageReceived, ConversationID: "conv-1"},
		}))
	}

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, published, received)
}

func TestWatermillEventBus_HandlerCanPublishNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newTestBus(t)
	done := make(chan error, 1)

	require.NoError(t, bus.Handle(events.EventLoggedEvent, func(ctx context.Context, _ any) error {
		err := bus.Publish(ctx, "conv-1", events.ExecutionFinished{
			BaseEvent:   events.NewBaseEvent(bus.GenerateID(), events.ExecutionFinishedEvent),
			ExecutionID: "exec-1",
			Status:      models.ExecutionStatusCompleted,
		})
		done <- err

		return err
	}))
	require.NoError(t, bus.Subscribe(ctx))

	go func() {
		_ = bus.Publish(ctx, "conv-1", events.EventLogged{
			BaseEvent: events.NewBaseEvent(bus.GenerateID(), events.EventLoggedEvent),
			EventLog:  &models.EventLog{EventID: "evt-1", EventType: models.EventMessageReceived, ConversationID: "conv-1"},
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("publishing a notification from a handler blocked")
	}
}

func TestTopicOf(t *testing.T) {
	assert.Equal(t, events.Topic, events.TopicOf(events.EventLoggedEvent))
	assert.Equal(t, events.Topic, events.TopicOf(events.ContinuationDueEvent))
	assert.Equal(t, events.NotificationTopic, events.TopicOf(events.ExecutionFinishedEvent))
	assert.Equal(t, events.NotificationTopic, events.TopicOf(events.MessageCreatedEvent))
	assert.Equal(t, events.NotificationTopic, events.TopicOf(events.WorkflowActivatedEvent))
}
