package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultWindow = 24 * time.Hour

// RedisDeduplicator remembers event ids for a sliding window with SET NX PX.
type RedisDeduplicator struct {
	client redis.UniversalClient
	window time.Duration
}

func NewRedisDeduplicator(client redis.UniversalClient, window time.Duration) *RedisDeduplicator {
	if window <= 0 {
		window = DefaultWindow
	}

	return &RedisDeduplicator{client: client, window: window}
}

func dedupKey(eventID string) string {
	return "ingest_dedup_" + eventID
}

func (d *RedisDeduplicator) Seen(ctx context.Context, eventID string) (bool, error) {
	stored, err := d.client.SetNX(ctx, dedupKey(eventID), 1, d.window).Result()
	if err != nil {
		return false, err
	}

	return !stored, nil
}

func (d *RedisDeduplicator) Forget(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupKey(eventID)).Err()
}
