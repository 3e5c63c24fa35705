package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/EZFRICA/context-engineering/internal/config"
	registrycache "github.com/EZFRICA/context-engineering/internal/registry/cache"
	"github.com/EZFRICA/context-engineering/internal/security"
)

const defaultTTL = 5 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.ContextCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CONTEXT_ENGINE_REDIS_URL is required")
	}
	ttl := cfg.ContextCacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return LoadFromURLWithTTL(ctx, cfg.RedisURL, ttl)
}

// LoadFromURLWithTTL creates a cache with an explicit default TTL.
func LoadFromURLWithTTL(ctx context.Context, redisURL string, ttl time.Duration) (registrycache.ContextCache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &redisContextCache{client: client, ttl: ttl}, nil
}

type redisContextCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func contextKey(system, scopeID string) string {
	return fmt.Sprintf("mounted-context:%s:%s", system, scopeID)
}

func (c *redisContextCache) Available() bool {
	return true
}

func (c *redisContextCache) Get(ctx context.Context, system, scopeID string) (string, bool, error) {
	data, err := c.client.Get(ctx, contextKey(system, scopeID)).Result()
	if err == goredis.Nil {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.Inc()
	}
	return data, true, nil
}

func (c *redisContextCache) Set(ctx context.Context, system, scopeID, rendered string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, contextKey(system, scopeID), rendered, ttl).Err()
}

func (c *redisContextCache) Remove(ctx context.Context, system, scopeID string) error {
	return c.client.Del(ctx, contextKey(system, scopeID)).Err()
}

var _ registrycache.ContextCache = (*redisContextCache)(nil)
