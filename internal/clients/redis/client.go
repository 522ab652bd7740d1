package redis

import (
	"context"
	"fmt"
	"time"

	"referral-engine/internal/config"
	"referral-engine/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client with observability
type Client struct {
	client *redis.Client
	logger *observability.Logger
}

// NewClient creates a new Redis client. Returns nil when Redis is
// disabled; callers treat a nil client as "no rate limiting".
func NewClient(cfg config.RedisConfig, logger *observability.Logger) (*Client, error) {
	if !cfg.Enabled {
		logger.Info(context.Background(), "Redis is disabled, skipping client initialization")
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info(context.Background(), "Redis client initialized")
	return &Client{client: client, logger: logger}, nil
}

// IsEnabled reports whether a usable Redis connection exists
func (c *Client) IsEnabled() bool {
	return c != nil && c.client != nil
}

// GetClient returns the underlying go-redis client
func (c *Client) GetClient() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
