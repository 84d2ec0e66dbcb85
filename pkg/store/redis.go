package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists results in Redis, for runs whose resume state must
// be shared across processes or hosts. Keys carry a configurable prefix so
// several backlogs can share one instance.
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed item store.
func NewRedisStore(redisClient *redis.Client, prefix string) (*RedisStore, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "extract"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}, nil
}

// WriteItemResult stores the result under <prefix>:item:<key>.
// Results have no TTL; a resumed run must still find them.
func (s *RedisStore) WriteItemResult(ctx context.Context, id ItemIdentity, res *ItemResult) error {
	if res == nil {
		return fmt.Errorf("item result cannot be nil")
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal item result: %w", err)
	}
	if err := s.redis.Set(ctx, s.itemKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// ReadItemResult loads the persisted result, or ErrNotFound.
func (s *RedisStore) ReadItemResult(ctx context.Context, id ItemIdentity) (*ItemResult, error) {
	data, err := s.redis.Get(ctx, s.itemKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var res ItemResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode item result: %w", err)
	}
	return &res, nil
}

// WriteSummary stores the run summary under <prefix>:summary:<runID>.
func (s *RedisStore) WriteSummary(ctx context.Context, runID string, summary any) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	key := fmt.Sprintf("%s:summary:%s", s.prefix, runID)
	if err := s.redis.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) itemKey(id ItemIdentity) string {
	return fmt.Sprintf("%s:item:%s", s.prefix, id.Key())
}
