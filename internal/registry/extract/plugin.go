package extract

import (
	"context"
	"fmt"

	"github.com/EZFRICA/context-engineering/internal/model"
)

// Extractor distills durable candidate facts from one conversational turn.
// An empty result is normal; many turns carry nothing worth remembering.
type Extractor interface {
	Extract(ctx context.Context, scopeID, userMsg, assistantMsg string) ([]model.CandidateFact, error)
	// Name returns the plugin name (e.g. "gemini", "none").
	Name() string
}

// Loader creates an Extractor from config.
type Loader func(ctx context.Context) (Extractor, error)

// Plugin represents a fact extractor plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an extractor plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered extractor plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named extractor plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown extractor %q; valid: %v", name, Names())
}
