package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/engageflow/pkg/aicontrol"
	"github.com/dukex/engageflow/pkg/conditions"
	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/dukex/engageflow/pkg/eventbus"
	"github.com/dukex/engageflow/pkg/ingest"
	"github.com/dukex/engageflow/pkg/metrics"
	"github.com/dukex/engageflow/pkg/otelhelper"
	"github.com/dukex/engageflow/pkg/persistence"
	"github.com/dukex/engageflow/pkg/registry"
	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// Runtime holds the collaborators every binary opens from CommonFlags.
type Runtime struct {
	Logger        *slog.Logger
	Persistence   persistence.Persistence
	EventBus      eventbus.EventBus
	Redis         redis.UniversalClient
	Conversations conversations.Store
	Outbox        *conversations.Outbox
	AIControl     aicontrol.Store
	Metrics       *metrics.Collector
	Tracer        trace.Tracer
	Registry      *registry.Registry
	Ingestor      *ingest.Ingestor

	closers []func(ctx context.Context) error
}

// Bootstrap opens everything CommonFlags describe. On failure the parts
// already opened are closed.
func Bootstrap(ctx context.Context, command *cli.Command, serviceName string, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Logger:  logger,
		Metrics: metrics.NewCollector(),
		Tracer:  otelhelper.NoopTracer(),
	}

	err := rt.open(ctx, command, serviceName)
	if err != nil {
		closeErr := rt.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to release resources", "error", closeErr)
		}

		return nil, err
	}

	return rt, nil
}

func (rt *Runtime) open(ctx context.Context, command *cli.Command, serviceName string) error {
	if command.Bool("otel") {
		tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		rt.Tracer = tracer
		rt.closers = append(rt.closers, shutdown)
	}

	store, err := NewPersistence(ctx, rt.Logger, command.String("database-url"))
	if err != nil {
		return err
	}

	rt.Persistence = store
	rt.closers = append(rt.closers, store.Close)

	bus, err := NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, rt.Logger)
	if err != nil {
		return err
	}

	rt.EventBus = bus
	rt.closers = append(rt.closers, func(context.Context) error { return bus.Close() })

	client, err := NewRedis(ctx, command.String("redis-url"))
	if err != nil {
		return err
	}

	rt.Redis = client
	rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })

	convs, err := NewConversations(ctx, rt.Logger, command.String("conversations-url"))
	if err != nil {
		return err
	}

	rt.Conversations = convs
	rt.closers = append(rt.closers, func(context.Context) error { return convs.Close() })

	rt.Outbox = conversations.NewOutbox(convs, bus, rt.Logger)
	rt.AIControl = aicontrol.NewRedisStore(client, command.Duration("ai-control-ttl"))
	rt.Registry = NewRegistry(rt.Logger, ActionDeps{
		Sender:        rt.Outbox,
		Conversations: convs,
		AIControl:     rt.AIControl,
		Metrics:       rt.Metrics,
	})
	rt.Ingestor = ingest.NewIngestor(
		store.EventLogRepository(),
		ingest.NewRedisDeduplicator(client, command.Duration("dedup-window")),
		bus,
		rt.Metrics,
		rt.Logger,
	)

	return nil
}

// Evaluator builds the condition evaluator, with the AI oracle when an API
// key is configured.
func (rt *Runtime) Evaluator(command *cli.Command) *conditions.Evaluator {
	opts := []conditions.Option{
		conditions.WithMetrics(rt.Metrics),
		conditions.WithOracleTimeout(command.Duration("oracle-timeout")),
	}

	if apiKey := command.String("oracle-api-key"); apiKey != "" {
		opts = append(opts, conditions.WithOracle(conditions.NewOpenAIOracle(conditions.OpenAIOracleConfig{
			APIKey:  apiKey,
			BaseURL: command.String("oracle-base-url"),
			Model:   command.String("oracle-model"),
		})))
	} else {
		rt.Logger.Warn("No oracle API key configured, ai_semantic clauses never pass")
	}

	return conditions.NewEvaluator(rt.Logger, opts...)
}

// Close releases resources in reverse opening order.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error

	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i](ctx))
	}

	rt.closers = nil

	return errors.Join(errs...)
}
