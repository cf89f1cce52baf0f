// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisCache is a Redis-backed implementation of Cache. Values are stored
// in an envelope carrying the logical expiry; the physical Redis TTL is the
// logical TTL plus the stale window, so expired values remain available for
// stale reads until Redis drops them.
type RedisCache struct {
	client      *redis.Client
	logger      zerolog.Logger
	staleWindow time.Duration
	stats       struct {
		hits      atomic.Int64
		staleHits atomic.Int64
		misses    atomic.Int64
		sets      atomic.Int64
	}
}

// RedisConfig connects the cache to one Redis database.
type RedisConfig struct {
	Addr     string // host:port
	Password string // optional
	DB       int
	// StaleWindow is how long expired values stay readable; 0 means 1 hour.
	StaleWindow time.Duration
}

type redisEnvelope struct {
	Value     json.RawMessage `json:"v"`
	ExpiresAt time.Time       `json:"exp"`
}

// NewRedisCache dials Redis and verifies the connection before returning.
func NewRedisCache(config RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	// Fail fast when Redis is unreachable rather than at first use.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if config.StaleWindow <= 0 {
		config.StaleWindow = defaultStaleWindow
	}

	logger.Info().
		Str("addr", config.Addr).
		Int("db", config.DB).
		Msg("connected to Redis cache")

	return &RedisCache{
		client:      client,
		logger:      logger,
		staleWindow: config.StaleWindow,
	}, nil
}

func (c *RedisCache) load(key string) (*redisEnvelope, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		return nil, false
	}

	var env redisEnvelope
	if err := json.Unmarshal(val, &env); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("envelope unmarshal failed")
		return nil, false
	}
	return &env, true
}

// Get returns the value when its logical expiry has not passed.
func (c *RedisCache) Get(key string) (any, bool) {
	env, ok := c.load(key)
	if !ok || time.Now().After(env.ExpiresAt) {
		c.stats.misses.Add(1)
		return nil, false
	}

	var result any
	if err := json.Unmarshal(env.Value, &result); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("json unmarshal failed")
		c.stats.misses.Add(1)
		return nil, false
	}

	c.stats.hits.Add(1)
	return result, true
}

// GetStale retrieves a value regardless of logical expiry.
func (c *RedisCache) GetStale(key string) (any, bool, bool) {
	env, ok := c.load(key)
	if !ok {
		c.stats.misses.Add(1)
		return nil, false, false
	}

	var result any
	if err := json.Unmarshal(env.Value, &result); err != nil {
		c.stats.misses.Add(1)
		return nil, false, false
	}

	if time.Now().After(env.ExpiresAt) {
		c.stats.staleHits.Add(1)
		return result, true, true
	}
	c.stats.hits.Add(1)
	return result, true, false
}

// Set writes the envelope with a physical TTL stretched by the stale
// window so GetStale can still read expired values.
func (c *RedisCache) Set(key string, value any, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("json marshal failed")
		return
	}
	data, err := json.Marshal(redisEnvelope{Value: raw, ExpiresAt: time.Now().Add(ttl)})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("envelope marshal failed")
		return
	}

	if err := c.client.Set(ctx, key, data, ttl+c.staleWindow).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}

	c.stats.sets.Add(1)
}

// Delete drops one key.
func (c *RedisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// DeleteByPrefix removes all keys in a namespace using SCAN.
func (c *RedisCache) DeleteByPrefix(prefix string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			c.logger.Warn().Err(err).Str("prefix", prefix).Msg("redis scan failed")
			return total
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.logger.Warn().Err(err).Str("prefix", prefix).Msg("redis delete failed")
				return total
			}
			total += len(keys)
		}
		cursor = next
		if cursor == 0 {
			return total
		}
	}
}

// Clear flushes the whole database this cache lives in.
func (c *RedisCache) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.client.FlushDB(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis flush failed")
	}
}

// Stats merges local hit counters with the server-side key count.
func (c *RedisCache) Stats() CacheStats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	size, err := c.client.DBSize(ctx).Result()
	if err != nil {
		c.logger.Warn().Err(err).Msg("redis dbsize failed")
		size = 0
	}

	return CacheStats{
		Hits:        c.stats.hits.Load(),
		StaleHits:   c.stats.staleHits.Load(),
		Misses:      c.stats.misses.Load(),
		Sets:        c.stats.sets.Load(),
		CurrentSize: int(size),
	}
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// HealthCheck pings Redis; the readiness probe calls this.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
