package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/engageflow/pkg/cmd"
	"github.com/dukex/engageflow/pkg/schedule"
	"github.com/dukex/engageflow/pkg/services"
	"github.com/dukex/engageflow/pkg/timer"
	"github.com/dukex/engageflow/pkg/web"
	"github.com/dukex/engageflow/pkg/workerpool"
	"github.com/dukex/engageflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"
)

const queueSize = 256

// Run wires the engine to the runtime and blocks until SIGINT or SIGTERM.
func Run(ctx context.Context, workerID string, command *cli.Command, rt *cmd.Runtime) error {
	logger := rt.Logger

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	timers := timer.NewRedisStore(rt.Redis)

	executor := workflow.NewExecutor(
		rt.Persistence,
		rt.Registry,
		rt.Evaluator(command),
		rt.Outbox,
		timers,
		logger,
		workflow.WithMaxSteps(command.Int("max-steps")),
		workflow.WithMetrics(rt.Metrics),
		workflow.WithTracer(rt.Tracer),
		workflow.WithPublisher(rt.EventBus),
	)
	engine := workflow.NewEngine(workflow.NewTriggerMatcher(rt.Persistence, rt.Conversations, logger), executor, logger)

	pool := workerpool.New(command.Int("lanes"), queueSize, logger)
	worker := NewWorkerManager(workerID, engine, rt.EventBus, pool, rt.Metrics, logger)

	err := worker.Start(ctx)
	if err != nil {
		return err
	}

	poller := timer.NewPoller(timers, command.Duration("timer-interval"), worker.FireWakeUp, logger)
	scheduler := schedule.NewScheduler(rt.Persistence.WorkflowRepository(), rt.Ingestor, command.Duration("schedule-sync-interval"), logger)

	go poller.Run(ctx)
	go scheduler.Run(ctx)

	if port := command.Int("api-port"); port > 0 {
		go serveAPI(ctx, rt, port)
	}

	var metricsServer *http.Server
	if port := command.Int("metrics-port"); port > 0 {
		metricsServer = serveMetrics(ctx, rt, port)
	}

	<-ctx.Done()
	logger.InfoContext(context.Background(), "Shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if metricsServer != nil {
		err := metricsServer.Shutdown(shutdownCtx)
		if err != nil {
			logger.ErrorContext(shutdownCtx, "Failed to stop metrics server", "error", err)
		}
	}

	return worker.Stop(shutdownCtx)
}

func serveAPI(ctx context.Context, rt *cmd.Runtime, port int) {
	handlers := web.NewAPIHandlers(
		services.NewWorkflow(rt.Persistence, rt.Registry, rt.EventBus, rt.Logger),
		services.NewTransfer(rt.Persistence, rt.Logger),
		rt.Ingestor,
		validator.New(validator.WithRequiredStructEnabled()),
		rt.Registry,
		rt.Logger,
	)
	app := web.NewApp(handlers, rt.Metrics.Handler())

	go func() {
		<-ctx.Done()

		err := app.Shutdown()
		if err != nil {
			rt.Logger.Error("Failed to stop API server", "error", err)
		}
	}()

	rt.Logger.InfoContext(ctx, "Serving API from the worker", "port", port)

	err := app.Listen(":" + strconv.Itoa(port))
	if err != nil {
		rt.Logger.ErrorContext(ctx, "API server stopped", "error", err)
	}
}

func serveMetrics(ctx context.Context, rt *cmd.Runtime, port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.Metrics.Handler())

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.Logger.ErrorContext(ctx, "Metrics server stopped", "error", err)
		}
	}()

	return server
}
