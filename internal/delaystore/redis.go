package delaystore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// claimScript reads the due members and removes them inside one script
// execution, which Redis runs atomically.
var claimScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #items > 0 then
    redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// RedisStore keeps the delay queue in a Redis sorted set
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore creates a Store on the sorted set named key. The caller owns
// the client lifecycle.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = DefaultKey
	}
	return &RedisStore{client: client, key: key}
}

// Key returns the sorted set name
func (s *RedisStore) Key() string { return s.key }

func (s *RedisStore) Add(ctx context.Context, member string, score int64) error {
	err := s.client.ZAdd(ctx, s.key, redis.Z{Score: float64(score), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("delaystore/redis: add: %w", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, maxScore int64, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := claimScript.Run(ctx, s.client, []string{s.key},
		strconv.FormatInt(maxScore, 10), strconv.Itoa(limit),
	).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("delaystore/redis: claim: %w", err)
	}
	return items, nil
}

func (s *RedisStore) Range(ctx context.Context, offset, limit int64) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}
	items, err := s.client.ZRange(ctx, s.key, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("delaystore/redis: range: %w", err)
	}
	return items, nil
}

func (s *RedisStore) Remove(ctx context.Context, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.client.ZRem(ctx, s.key, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("delaystore/redis: remove: %w", err)
	}
	return n, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delaystore/redis: clear: %w", err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("delaystore/redis: len: %w", err)
	}
	return n, nil
}

// Ping verifies the Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
