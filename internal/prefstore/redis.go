package prefstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prethora/glowly"
)

// DefaultCacheTTL is how long cached preferences live in Redis.
const DefaultCacheTTL = 15 * time.Minute

const keyPrefix = "glowly:prefs:"

// cacheClient is the subset of *redis.Client the cache uses.
type cacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Cache fronts a Store with Redis. Reads try Redis first and fill it on a
// miss; writes go to the backing store and invalidate the cached entry.
// Redis failures never fail a call, they fall through to the backing store.
type Cache struct {
	client  cacheClient
	backing Store
	ttl     time.Duration
	logger  glowly.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Store = (*Cache)(nil)

// NewRedisCache connects to the Redis server at addr and returns a cache in
// front of backing.
func NewRedisCache(ctx context.Context, addr string, backing Store, ttl time.Duration, logger glowly.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: connecting to redis: %v", ErrStorage, err)
	}
	return newCache(client, backing, ttl, logger), nil
}

func newCache(client cacheClient, backing Store, ttl time.Duration, logger glowly.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = discard{}
	}
	return &Cache{client: client, backing: backing, ttl: ttl, logger: logger}
}

func cacheKey(userID string) string { return keyPrefix + userID }

// Preferences returns the cached weights, loading them from the backing
// store on a miss.
func (c *Cache) Preferences(ctx context.Context, userID string) (glowly.Preferences, error) {
	key := cacheKey(userID)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var prefs glowly.Preferences
		if jerr := json.Unmarshal([]byte(val), &prefs); jerr == nil {
			c.hits.Add(1)
			if prefs == nil {
				prefs = glowly.Preferences{}
			}
			return prefs, nil
		}
		c.logger.Warn("dropping corrupt cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("redis get failed", "key", key, "error", err)
	}
	c.misses.Add(1)

	prefs, err := c.backing.Preferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(prefs)
	if err == nil {
		if serr := c.client.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.logger.Warn("redis set failed", "key", key, "error", serr)
		}
	}
	return prefs, nil
}

// SetPreferences writes through to the backing store and invalidates the
// cached entry.
func (c *Cache) SetPreferences(ctx context.Context, userID string, prefs glowly.Preferences) error {
	if err := c.backing.SetPreferences(ctx, userID, prefs); err != nil {
		return err
	}
	c.invalidate(ctx, userID)
	return nil
}

// RecordFeedback passes through to the backing store.
func (c *Cache) RecordFeedback(ctx context.Context, userID string, ev glowly.FeedbackEvent) error {
	return c.backing.RecordFeedback(ctx, userID, ev)
}

// Feedback passes through to the backing store.
func (c *Cache) Feedback(ctx context.Context, userID string, limit int) ([]glowly.FeedbackEvent, error) {
	return c.backing.Feedback(ctx, userID, limit)
}

func (c *Cache) invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		c.logger.Warn("redis invalidate failed", "user_id", userID, "error", err)
	}
}

// HitRate returns the fraction of Preferences calls served from Redis.
func (c *Cache) HitRate() float64 {
	hits, misses := c.hits.Load(), c.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// Health pings Redis.
func (c *Cache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client and the backing store.
func (c *Cache) Close() error {
	return errors.Join(c.client.Close(), c.backing.Close())
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
