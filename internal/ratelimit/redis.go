package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "progress:join:"

type RedisLimiter struct {
	client *redis.Client
	opts   Options
}

// NewRedis counts with INCR on a key that expires with the window, so the
// counter and its reset happen in one round trip.
func NewRedis(client *redis.Client, opts Options) Limiter {
	if opts.disabled() {
		return Disabled{}
	}
	return &RedisLimiter{client: client, opts: opts}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := redisKeyPrefix + key
	pipe := l.client.TxPipeline()
	pipe.SetNX(ctx, redisKey, 0, l.opts.Window)
	incr := pipe.Incr(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return incr.Val() <= int64(l.opts.Max), nil
}
