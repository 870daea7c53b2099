package timer_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/timer"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *timer.RedisStore {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return timer.NewRedisStore(client)
}

func TestRedisStore_ClaimDue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	require.NoError(t, store.Schedule(ctx, timer.WakeUp{ID: "due", ExecutionID: "exec-1", NodeID: "ask", Kind: models.ContinuationWaiting, DueAt: now.Add(-time.Second)}))
	require.NoError(t, store.Schedule(ctx, timer.WakeUp{ID: "later", ExecutionID: "exec-1", NodeID: "wait", Kind: models.ContinuationDelay, DueAt: now.Add(time.Hour)}))

	claimed, err := store.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "due", claimed[0].ID)
	assert.Equal(t, "exec-1", claimed[0].ExecutionID)

	claimed, err = store.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	ok, err := store.Claim(ctx, "later")
	require.NoError(t, err)
	assert.True(t, ok)

	claimed, err = store.ClaimDue(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRedisStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Schedule(ctx, timer.WakeUp{ID: "w1", DueAt: time.Now()}))

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ok, err := store.Claim(ctx, "w1")
			assert.NoError(t, err)

			if ok {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestPoller_Poll(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Schedule(ctx, timer.WakeUp{ID: id, DueAt: time.Now().Add(-time.Minute)}))
	}

	var fired []string

	poller := timer.NewPoller(store, time.Second, func(_ context.Context, wakeUp timer.WakeUp) error {
		fired = append(fired, wakeUp.ID)
		if wakeUp.ID == "b" {
			return errors.New("publish failed")
		}

		return nil
	}, logger)

	assert.Equal(t, 2, poller.Poll(ctx))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, fired)
	assert.Equal(t, 0, poller.Poll(ctx))
}

func TestPoller_RetriesFailedFire(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	pending := timer.WakeUp{
		ID:             "cont-1",
		ExecutionID:    "exec-1",
		ConversationID: "conv-1",
		NodeID:         "wait",
		Kind:           models.ContinuationWaiting,
		DueAt:          time.Now().Add(-time.Minute),
	}
	require.NoError(t, store.Schedule(ctx, pending))

	poller := timer.NewPoller(store, 10*time.Millisecond, func(context.Context, timer.WakeUp) error {
		return errors.New("broker down")
	}, logger)

	assert.Equal(t, 0, poller.Poll(ctx))

	rescheduled, err := store.ClaimDue(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rescheduled, 1)
	assert.Equal(t, "cont-1", rescheduled[0].ID)
	assert.Equal(t, "exec-1", rescheduled[0].ExecutionID)
	assert.Equal(t, models.ContinuationWaiting, rescheduled[0].Kind)
	assert.True(t, rescheduled[0].DueAt.After(time.Now().Add(-time.Second)))
}

func TestPoller_RetryKeepsTheClaimArbitration(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	require.NoError(t, store.Schedule(ctx, timer.WakeUp{ID: "cont-1", ExecutionID: "exec-1", DueAt: time.Now().Add(-time.Minute)}))

	var attempts atomic.Int32

	poller := timer.NewPoller(store, 10*time.Millisecond, func(context.Context, timer.WakeUp) error {
		if attempts.Add(1) == 1 {
			return errors.New("broker down")
		}

		return nil
	}, logger)

	assert.Equal(t, 0, poller.Poll(ctx))

	// A counterparty response can still claim the rescheduled continuation.
	claimed, err := store.Claim(ctx, "cont-1")
	require.NoError(t, err)
	assert.True(t, claimed)

	assert.Equal(t, 0, poller.Poll(ctx))
	assert.Equal(t, int32(1), attempts.Load())
}
