package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/nsfw-check/internal/config"
)

const defaultKeyPrefix = "ratelimit"

// RedisLimiter counts requests per client in fixed windows stored in Redis, so
// the quota is shared by every replica using the same server.
type RedisLimiter struct {
	client *redis.Client
	quota  config.RateLimit
	prefix string
	now    func() time.Time
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, quota config.RateLimit) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		quota:  quota,
		prefix: defaultKeyPrefix,
		now:    time.Now,
	}
}

// Allow increments the client's counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().UnixNano() / int64(l.quota.Period)
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.quota.Period)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("increment %s: %w", redisKey, err)
	}
	return incr.Val() <= int64(l.quota.Requests), nil
}

// Ping checks connectivity at startup.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
