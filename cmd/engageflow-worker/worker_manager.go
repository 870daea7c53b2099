package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/engageflow/pkg/eventbus"
	"github.com/dukex/engageflow/pkg/events"
	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/dukex/engageflow/pkg/models"
	"github.com/dukex/engageflow/pkg/timer"
	"github.com/dukex/engageflow/pkg/workerpool"
)

const shutdownTimeout = 30 * time.Second

// Engine is the part of the workflow engine the worker drives.
type Engine interface {
	HandleEvent(ctx context.Context, event *models.EventLog) error
	HandleContinuationDue(ctx context.Context, due events.ContinuationDue) error
}

// WorkerManager consumes logged events and due continuations from the bus and
// runs them on the pool, one lane per conversation.
type WorkerManager struct {
	id       string
	logger   *slog.Logger
	engine   Engine
	eventBus eventbus.EventBus
	pool     *workerpool.Pool
	metrics  *metrics.Collector
}

func NewWorkerManager(
	id string,
	engine Engine,
	eventBus eventbus.EventBus,
	pool *workerpool.Pool,
	collector *metrics.Collector,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:       id,
		logger:   logger.With("module", "engageflow-worker", "worker_id", id),
		engine:   engine,
		eventBus: eventBus,
		pool:     pool,
		metrics:  collector,
	}
}

// Start registers the handlers and subscribes to the bus.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	err := w.eventBus.Handle(events.EventLoggedEvent, w.handleEventLogged)
	if err != nil {
		return err
	}

	err = w.eventBus.Handle(events.ContinuationDueEvent, w.handleContinuationDue)
	if err != nil {
		return err
	}

	err = w.eventBus.Subscribe(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Stop drains the pool.
func (w *WorkerManager) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := w.pool.Shutdown(ctx)

	w.logger.InfoContext(ctx, "Worker stopped", "tasks", w.pool.Metrics())

	return err
}

func (w *WorkerManager) handleEventLogged(ctx context.Context, event any) error {
	logged, ok := event.(*events.EventLogged)
	if !ok || logged.EventLog == nil {
		w.logger.ErrorContext(ctx, "Invalid event type for EventLogged")

		return nil
	}

	eventLog := logged.EventLog

	return w.pool.Submit(ctx, eventLog.OrderingKey(), func(ctx context.Context) error {
		err := w.engine.HandleEvent(ctx, eventLog)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to handle event",
				"event_id", eventLog.EventID,
				"event_type", eventLog.EventType,
				"error", err)
		}

		return err
	})
}

func (w *WorkerManager) handleContinuationDue(ctx context.Context, event any) error {
	due, ok := event.(*events.ContinuationDue)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ContinuationDue")

		return nil
	}

	resumed := *due

	return w.pool.Submit(ctx, continuationKey(resumed.ConversationID, resumed.ExecutionID), func(ctx context.Context) error {
		err := w.engine.HandleContinuationDue(ctx, resumed)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to resume continuation",
				"execution_id", resumed.ExecutionID,
				"continuation_id", resumed.ContinuationID,
				"error", err)
		}

		return err
	})
}

// FireWakeUp announces a due wake-up on the bus, so whichever worker owns the
// conversation lane resumes it.
func (w *WorkerManager) FireWakeUp(ctx context.Context, wakeUp timer.WakeUp) error {
	err := w.eventBus.Publish(ctx, continuationKey(wakeUp.ConversationID, wakeUp.ExecutionID), events.ContinuationDue{
		BaseEvent:      events.NewBaseEvent(w.eventBus.GenerateID(), events.ContinuationDueEvent),
		ExecutionID:    wakeUp.ExecutionID,
		ContinuationID: wakeUp.ID,
		ConversationID: wakeUp.ConversationID,
		NodeID:         wakeUp.NodeID,
		Kind:           wakeUp.Kind,
	})
	if err != nil {
		return err
	}

	w.metrics.WakeUpFired()

	return nil
}

func continuationKey(conversationID, executionID string) string {
	if conversationID != "" {
		return conversationID
	}

	return executionID
}
