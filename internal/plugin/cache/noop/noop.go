package noop

import (
	"context"
	"time"

	registrycache "github.com/EZFRICA/context-engineering/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "none",
		Loader: func(_ context.Context) (registrycache.ContextCache, error) {
			return &noopCache{}, nil
		},
	})
}

// noopCache disables context caching; every mount reads the store.
type noopCache struct{}

func (c *noopCache) Available() bool { return false }

func (c *noopCache) Get(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (c *noopCache) Set(context.Context, string, string, string, time.Duration) error {
	return nil
}

func (c *noopCache) Remove(context.Context, string, string) error {
	return nil
}

var _ registrycache.ContextCache = (*noopCache)(nil)
