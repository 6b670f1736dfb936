package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/metrics"
)

// Cache is a JSON read-through cache for aggregate query results. A nil
// *Cache is valid and always misses, so callers can run without Redis.
type Cache struct {
	client *Client
	ttl    time.Duration
	logger ectologger.Logger
}

// NewCache wraps client with a fixed TTL. Pass a nil client to disable
// caching entirely.
func NewCache(client *Client, ttl time.Duration, logger ectologger.Logger) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// GetJSON loads key into dest. It returns false on a miss, an unreachable
// Redis, or a corrupt entry; cache trouble never fails the caller's query.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}

	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Cache read failed")
		}
		metrics.StatsCacheHits.WithLabelValues("miss").Inc()
		return false
	}

	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Dropping corrupt cache entry")
		_ = c.client.Del(ctx, key)
		metrics.StatsCacheHits.WithLabelValues("miss").Inc()
		return false
	}

	metrics.StatsCacheHits.WithLabelValues("hit").Inc()
	return true
}

// SetJSON stores value under key for the cache's TTL. Failures are logged and
// swallowed.
func (c *Cache) SetJSON(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}

	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Failed to marshal cache entry")
		return
	}

	if err := c.client.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}
