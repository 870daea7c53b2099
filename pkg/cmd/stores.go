package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/engageflow/pkg/conversations"
	"github.com/redis/go-redis/v9"
)

// NewRedis connects to the Redis server backing deduplication, AI control
// and timers.
func NewRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return client, nil
}

// NewConversations opens the conversation store: "memory" or postgres://...
func NewConversations(ctx context.Context, logger *slog.Logger, url string) (conversations.Store, error) {
	provider, _ := parseProvider(url)

	switch provider {
	case "memory":
		logger.WarnContext(ctx, "Using the in-memory conversation store, conversations are lost on restart")

		return conversations.NewMemoryStore(), nil
	case "postgres", "postgresql":
		store, err := conversations.NewPostgresStore(ctx, logger, url)
		if err != nil {
			return nil, err
		}

		return store, nil
	default:
		return nil, fmt.Errorf("unsupported conversation store: %s", provider)
	}
}
