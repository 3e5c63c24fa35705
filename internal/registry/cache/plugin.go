package cache

import (
	"context"
	"fmt"
	"time"
)

// ContextCache caches rendered memory-context blocks for (system, scope)
// pairs. Only query-less mounts are cached; query-specific mounts always hit
// the store.
type ContextCache interface {
	Available() bool
	// Get returns the cached context block and whether it was present.
	Get(ctx context.Context, system, scopeID string) (string, bool, error)
	Set(ctx context.Context, system, scopeID, rendered string, ttl time.Duration) error
	Remove(ctx context.Context, system, scopeID string) error
}

// Loader creates a ContextCache from config.
type Loader func(ctx context.Context) (ContextCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
