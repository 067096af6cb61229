package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smallnest/taskgraphgo/cache"
)

// RedisOutputCache implements cache.OutputCache using Redis
type RedisOutputCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ cache.OutputCache = (*RedisOutputCache)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "taskgraph:"
	TTL      time.Duration // Expiration for cached outputs, default 0 (no expiration)
}

// NewRedisOutputCache creates a new Redis output cache
func NewRedisOutputCache(opts RedisOptions) *RedisOutputCache {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "taskgraph:"
	}

	return &RedisOutputCache{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// NewOutputCacheFromClient creates a cache backed by an existing client.
// Useful when the application already manages its Redis connections.
func NewOutputCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisOutputCache {
	if prefix == "" {
		prefix = "taskgraph:"
	}
	return &RedisOutputCache{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (c *RedisOutputCache) outputKey(taskType, key string) string {
	return fmt.Sprintf("%soutput:%s:%s", c.prefix, taskType, key)
}

// GetOutput returns the cached output for the key.
func (c *RedisOutputCache) GetOutput(ctx context.Context, taskType, key string) (map[string]any, bool, error) {
	data, err := c.client.Get(ctx, c.outputKey(taskType, key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read output from redis: %w", err)
	}

	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached output: %w", err)
	}
	return output, true, nil
}

// PutOutput stores the output for the key, applying the configured TTL.
func (c *RedisOutputCache) PutOutput(ctx context.Context, taskType, key string, output map[string]any) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}

	if err := c.client.Set(ctx, c.outputKey(taskType, key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save output to redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisOutputCache) Close() error {
	return c.client.Close()
}
