package stt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisKeyPrefix = "asr:transcript:"

// RedisCache shares cached results between gateway replicas
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisCache creates a cache on an existing client
func NewRedisCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// NewRedisCacheFromURL parses a redis:// URL and creates a cache for it
func NewRedisCacheFromURL(url string, ttl time.Duration, logger zerolog.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisCache(redis.NewClient(opts), ttl, logger), nil
}

// Get loads a result; missing keys and Redis errors are both misses
func (c *RedisCache) Get(ctx context.Context, key string) (*Result, bool) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Msg("Result cache lookup failed")
		}
		return nil, false
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cache entry")
		return nil, false
	}
	return &result, true
}

// Set stores result with the cache TTL
func (c *RedisCache) Set(ctx context.Context, key string, result *Result) {
	if result == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Result cache store failed")
	}
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
