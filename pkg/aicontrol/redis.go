package aicontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxMergeAttempts bounds the optimistic retries of MergeContext. A failed
// attempt means another merge committed, so this only runs out under heavy
// contention on a single conversation.
const maxMergeAttempts = 100

// RedisStore keeps the AI-control keys in Redis.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) SetControl(ctx context.Context, conversationID string, control Control) error {
	payload, err := json.Marshal(control)
	if err != nil {
		return fmt.Errorf("failed to marshal ai control: %w", err)
	}

	err = s.client.Set(ctx, ControlKey(conversationID), payload, s.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set ai control for %s: %w", conversationID, err)
	}

	return nil
}

func (s *RedisStore) Control(ctx context.Context, conversationID string) (*Control, error) {
	payload, err := s.client.Get(ctx, ControlKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to get ai control for %s: %w", conversationID, err)
	}

	var control Control

	err = json.Unmarshal(payload, &control)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ai control for %s: %w", conversationID, err)
	}

	return &control, nil
}

func (s *RedisStore) MergeContext(ctx context.Context, conversationID string, values map[string]any) error {
	patch := make(map[string]json.RawMessage, len(values))

	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal ai context: %w", err)
		}

		patch[k] = raw
	}

	key := ContextKey(conversationID)

	for range maxMergeAttempts {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			return s.merge(ctx, tx, key, patch)
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		if err != nil {
			return fmt.Errorf("failed to merge ai context for %s: %w", conversationID, err)
		}

		return nil
	}

	return fmt.Errorf("failed to merge ai context for %s: %w", conversationID, redis.TxFailedErr)
}

// merge writes patch over the stored object. Stored values are kept as raw
// JSON so nested objects and arrays come back exactly as they were written.
func (s *RedisStore) merge(ctx context.Context, tx *redis.Tx, key string, patch map[string]json.RawMessage) error {
	merged := make(map[string]json.RawMessage)

	current, err := tx.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	if err == nil && json.Unmarshal(current, &merged) != nil {
		merged = make(map[string]json.RawMessage)
	}

	for k, v := range patch {
		merged[k] = v
	}

	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, s.ttl)

		return nil
	})

	return err
}

func (s *RedisStore) Context(ctx context.Context, conversationID string) (map[string]any, error) {
	values := make(map[string]any)

	payload, err := s.client.Get(ctx, ContextKey(conversationID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return values, nil
		}

		return nil, fmt.Errorf("failed to get ai context for %s: %w", conversationID, err)
	}

	err = json.Unmarshal(payload, &values)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ai context for %s: %w", conversationID, err)
	}

	return values, nil
}

func (s *RedisStore) ResetContext(ctx context.Context, conversationID string) error {
	control, err := NewControl(ModeResetContext, "")
	if err != nil {
		return err
	}

	payload, err := json.Marshal(control)
	if err != nil {
		return fmt.Errorf("failed to marshal ai control: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, ContextKey(conversationID))
		pipe.Set(ctx, ControlKey(conversationID), payload, s.ttl)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reset ai context for %s: %w", conversationID, err)
	}

	return nil
}
