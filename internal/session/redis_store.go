package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares sessions between API replicas. Values are strings
// (typically object keys of uploaded sources); expiry is delegated to Redis
// key TTLs, so an expired session simply reads as empty.
type RedisStore struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	submit    *redis.Script
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration, keyPrefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "storyframe:session"
	}

	return &RedisStore{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
		submit: redis.NewScript(`
local held = redis.call("GET", KEYS[1])
if held then
  redis.call("DEL", KEYS[1])
  return {2, held}
end

local ttl_ms = tonumber(ARGV[2])
if ttl_ms > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl_ms)
else
  redis.call("SET", KEYS[1], ARGV[1])
end
return {1, ""}
`),
	}, nil
}

func (s *RedisStore) Submit(ctx context.Context, key string, value string) (Submission[string], error) {
	if key == "" {
		return Submission[string]{}, ErrEmptyKey
	}

	raw, err := s.submit.Run(ctx, s.client, []string{s.redisKey(key)}, value, s.ttl.Milliseconds()).Result()
	if err != nil {
		return Submission[string]{}, fmt.Errorf("run session submit script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return Submission[string]{}, fmt.Errorf("invalid session submit response")
	}
	role, ok := values[0].(int64)
	if !ok {
		return Submission[string]{}, fmt.Errorf("invalid session role %T", values[0])
	}
	held, _ := values[1].(string)

	if Role(role) == RoleSecond {
		return Submission[string]{Role: RoleSecond, First: held}, nil
	}
	return Submission[string]{Role: RoleFirst}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) (ResetOutcome, error) {
	if key == "" {
		return NothingToReset, ErrEmptyKey
	}

	removed, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return NothingToReset, fmt.Errorf("delete session: %w", err)
	}
	if removed == 0 {
		return NothingToReset, nil
	}
	return Cleared, nil
}

func (s *RedisStore) redisKey(key string) string {
	return s.keyPrefix + ":" + key
}
