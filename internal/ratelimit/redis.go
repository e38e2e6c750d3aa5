package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Redis is a fixed-window limiter shared across instances. A counter key is
// INCRed per request and expires with the window. Backend errors fail open:
// a broken Redis must not take logins down with it.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds a Redis-backed limiter. prefix namespaces the keys.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 {
		return Decision{Allowed: true}
	}
	redisKey := r.prefix + ":" + key

	pipe := r.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true, Remaining: limit}
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	if count > limit {
		retryAfter := window
		if ttl, err := r.client.TTL(ctx, redisKey).Result(); err == nil && ttl > 0 {
			retryAfter = ttl
		}
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true, Remaining: remaining}
}
