package ratelimit

import (
	"context"
	"time"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/redis"
)

// RedisLimiter keeps fixed-window counters in Redis so several gateway
// instances share one budget per client. Enabled when REDIS_URL is set.
type RedisLimiter struct {
	client *redis.Client
	window time.Duration
	max    int
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, window time.Duration, max int) *RedisLimiter {
	return &RedisLimiter{client: client, window: window, max: max}
}

// Consume takes one point from the client's counter.
func (l *RedisLimiter) Consume(ctx context.Context, clientID string) (Decision, error) {
	allowed, remaining, retryAfter, err := l.client.FixedWindow(ctx, clientID, l.max, l.window)
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		Allowed:    allowed,
		Limit:      l.max,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}
