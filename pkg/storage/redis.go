package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// defaultCacheTTL bounds how long a processed-event marker lives. Payment
// providers stop redelivering well before this.
const defaultCacheTTL = 72 * time.Hour

// IdempotencyCache is a Redis-backed fast path for processed-event checks.
// A miss means "consult the store", never "not processed".
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyCache connects to Redis and verifies the connection.
func NewIdempotencyCache(config Config) (*IdempotencyCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB > 0 {
		opts.DB = config.RedisDB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := config.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	return &IdempotencyCache{client: client, ttl: ttl}, nil
}

// NewIdempotencyCacheWithClient wraps an existing client. Used by tests.
func NewIdempotencyCacheWithClient(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// MarkProcessed records that an event ID has been fully processed.
func (c *IdempotencyCache) MarkProcessed(ctx context.Context, eventID string) error {
	if err := c.client.Set(ctx, eventKey(eventID), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// IsProcessed reports whether an event ID is known to be processed.
func (c *IdempotencyCache) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	err := c.client.Get(ctx, eventKey(eventID)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get failed: %w", err)
	}
	return true, nil
}

// HealthCheck pings Redis.
func (c *IdempotencyCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *IdempotencyCache) Close() error {
	return c.client.Close()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:processed:%s", eventID)
}
