package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// NewWithAddr creates a client for a bare host:port address. Used by tests
// that run against miniredis.
func NewWithAddr(addr string) *Client {
	return &Client{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// FixedWindow consumes one point from the fixed-window counter for key.
// It returns whether the request is allowed, how many points remain in the
// current window, and the time until the window resets when rejected.
//
// INCR is the sole mutation, so concurrent consumers each observe a distinct
// counter value and the budget holds under interleaving. The over-count left
// behind by rejected requests is harmless: the key expires with the window.
func (c *Client) FixedWindow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Duration, error) {
	redisKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := c.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, 0, err
	}

	// First point in this window starts its expiry.
	if count == 1 {
		c.client.Expire(ctx, redisKey, window)
	}

	if count > int64(limit) {
		retryAfter, err := c.client.TTL(ctx, redisKey).Result()
		if err != nil || retryAfter < 0 {
			retryAfter = window
		}
		return false, 0, retryAfter, nil
	}

	return true, limit - int(count), 0, nil
}
