package ingest_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/ingest"
	"github.com/dukex/engageflow/pkg/mocks"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/persistence/file"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	ingestor *ingest.Ingestor
	bus      *mocks.MockEventBus
	server   *miniredis.Miniredis
	events   persistence.EventLogRepository
}

func setup(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("id")

	repository := file.NewPersistence(t.TempDir()).EventLogRepository()

	return &fixture{
		ingestor: ingest.NewIngestor(repository, ingest.NewRedisDeduplicator(client, time.Minute), bus, nil, logger),
		bus:      bus,
		server:   server,
		events:   repository,
	}
}

func messageEvent(id string) ingest.Event {
	return ingest.Event{
		EventID:        id,
		EventType:      models.EventMessageReceived,
		ConversationID: "conv-1",
		Data:           map[string]any{"content": "hello"},
	}
}

func TestIngest_PublishesKeyedByConversation(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, "conv-1", mock.MatchedBy(func(event events.EventLogged) bool {
		return event.EventLog.EventID == "evt-1"
	})).Return(nil).Once()

	eventLog, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", eventLog.Data["content"])

	stored, err := f.events.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Equal(t, models.EventMessageReceived, stored.EventType)

	f.bus.AssertExpectations(t)
}

func TestIngest_DuplicateInsideWindow(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)

	_, err = f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	assert.True(t, ingest.IsDuplicate(err))

	f.bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestIngest_DuplicateAfterWindowCaughtByLog(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)

	f.server.FastForward(2 * time.Minute)

	_, err = f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	assert.True(t, ingest.IsDuplicate(err))
	assert.ErrorIs(t, err, persistence.ErrDuplicateEvent)
}

func TestIngest_RedisOutageFallsBackToLog(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	f.server.Close()

	_, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)

	_, err = f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	assert.True(t, ingest.IsDuplicate(err))
}

func TestIngest_Invalid(t *testing.T) {
	f := setup(t)

	_, err := f.ingestor.Ingest(context.Background(), ingest.Event{EventID: "evt-1", EventType: "unknown"})
	require.Error(t, err)
	assert.False(t, ingest.IsDuplicate(err))

	_, err = f.ingestor.Ingest(context.Background(), ingest.Event{EventType: models.EventTagAdded})
	require.Error(t, err)

	f.bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_PublishFailure(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	eventLog, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.Error(t, err)
	assert.Nil(t, eventLog)
	assert.False(t, ingest.IsDuplicate(err))

	stored, err := f.events.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.Nil(t, stored.PublishedAt)
}

func TestIngest_RedeliveryAfterPublishFailure(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	f.bus.On("Publish", mock.Anything, "conv-1", mock.MatchedBy(func(event events.EventLogged) bool {
		return event.EventLog.EventID == "evt-1"
	})).Return(nil).Once()

	_, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.Error(t, err)

	eventLog, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "evt-1", eventLog.EventID)

	stored, err := f.events.GetByID(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.NotNil(t, stored.PublishedAt)

	_, err = f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	assert.True(t, ingest.IsDuplicate(err))

	f.bus.AssertNumberOfCalls(t, "Publish", 2)
}

func TestIngest_RedeliveryOutsideWindowRepublishes(t *testing.T) {
	f := setup(t)
	f.bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	eventLog := &models.EventLog{
		EventID:        "evt-1",
		EventType:      models.EventMessageReceived,
		ConversationID: "conv-1",
		Data:           map[string]any{"content": "hello"},
	}
	require.NoError(t, f.events.Append(context.Background(), eventLog))

	republished, err := f.ingestor.Ingest(context.Background(), messageEvent("evt-1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", republished.Data["content"])

	f.bus.AssertNumberOfCalls(t, "Publish", 1)
}
