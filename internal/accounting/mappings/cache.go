package mappings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "mappings:version"

// Cache stores mapping rows in Redis under versioned keys so an
// administrative edit can invalidate every entry with one increment.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	joined := strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", joined, ver), nil
}

// FetchRows loads cached rows or populates them using the loader. Redis
// failures are logged and never hide rows the loader produced.
func (c *Cache) FetchRows(ctx context.Context, key string, loader func(context.Context) ([]AccountMapping, error)) ([]AccountMapping, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rows []AccountMapping
		if err := json.Unmarshal(payload, &rows); err == nil {
			return rows, nil
		}
		c.logger.Warn("mapping cache entry unreadable", slog.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("mapping cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	rows, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn("mapping cache encode failed", slog.String("key", key), slog.Any("error", err))
		return rows, nil
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("mapping cache write failed", slog.String("key", key), slog.Any("error", err))
	}
	return rows, nil
}

// Bump invalidates every cached entry.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

// CachedRules is a RuleSource that reads through the cache and collapses
// concurrent loads of the same key.
type CachedRules struct {
	source RuleSource
	cache  *Cache
	group  singleflight.Group
}

// NewCachedRules wraps source with cache.
func NewCachedRules(source RuleSource, cache *Cache) *CachedRules {
	return &CachedRules{source: source, cache: cache}
}

// ListActive implements RuleSource.
func (c *CachedRules) ListActive(ctx context.Context, eventType string, side Side) ([]AccountMapping, error) {
	key, err := c.cache.BuildKey(ctx, "mappings", eventType, string(side))
	if err != nil {
		return c.source.ListActive(ctx, eventType, side)
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.cache.FetchRows(ctx, key, func(ctx context.Context) ([]AccountMapping, error) {
			return c.source.ListActive(ctx, eventType, side)
		})
	})
	if err != nil {
		return nil, err
	}
	rows := v.([]AccountMapping)
	out := make([]AccountMapping, len(rows))
	copy(out, rows)
	return out, nil
}

// Invalidate drops cached rows after an administrative change.
func (c *CachedRules) Invalidate(ctx context.Context) error {
	return c.cache.Bump(ctx)
}
