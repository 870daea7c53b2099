package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	scheduleKey = "engageflow_timers"
	payloadKey  = "engageflow_timer_payloads"
)

// RedisStore keeps wake-ups in a sorted set scored by due time in
// milliseconds; the payloads live in a hash. Removing a member from the
// sorted set is the claim.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Schedule(ctx context.Context, wakeUp WakeUp) error {
	payload, err := json.Marshal(wakeUp)
	if err != nil {
		return fmt.Errorf("failed to marshal wake-up: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, payloadKey, wakeUp.ID, payload)
		pipe.ZAdd(ctx, scheduleKey, redis.Z{Score: float64(wakeUp.DueAt.UnixMilli()), Member: wakeUp.ID})

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule wake-up %s: %w", wakeUp.ID, err)
	}

	return nil
}

func (s *RedisStore) Claim(ctx context.Context, id string) (bool, error) {
	removed, err := s.client.ZRem(ctx, scheduleKey, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim wake-up %s: %w", id, err)
	}

	if removed != 1 {
		return false, nil
	}

	err = s.client.HDel(ctx, payloadKey, id).Err()
	if err != nil {
		return true, fmt.Errorf("failed to drop payload of wake-up %s: %w", id, err)
	}

	return true, nil
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]WakeUp, error) {
	ids, err := s.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list due wake-ups: %w", err)
	}

	claimed := make([]WakeUp, 0, len(ids))

	for _, id := range ids {
		payload, err := s.client.HGet(ctx, payloadKey, id).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return claimed, fmt.Errorf("failed to load wake-up %s: %w", id, err)
		}

		ok, err := s.Claim(ctx, id)
		if err != nil {
			return claimed, err
		}

		// Another poller or a counterparty response won the race.
		if !ok || payload == nil {
			continue
		}

		var wakeUp WakeUp

		err = json.Unmarshal(payload, &wakeUp)
		if err != nil {
			return claimed, fmt.Errorf("failed to unmarshal wake-up %s: %w", id, err)
		}

		claimed = append(claimed, wakeUp)
	}

	return claimed, nil
}
