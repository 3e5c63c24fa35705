package store

import (
	"context"
	"fmt"

	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/google/uuid"
)

// ScoredFact is a hybrid search result with its relevance score
// (higher = more relevant).
type ScoredFact struct {
	Fact  model.Fact `json:"fact"`
	Score float64    `json:"score"`
}

// FactDistance is a nearest-neighbor result with its semantic distance
// (0 = identical, larger = less similar).
type FactDistance struct {
	Fact     model.Fact `json:"fact"`
	Distance float64    `json:"distance"`
}

// FactUpdate defines the mutable fact fields. Nil means "leave unchanged".
// Timestamps are never mutable through updates.
type FactUpdate struct {
	Content *string
	Tags    []string
}

// FactStore is the capability contract the memory engine requires from a
// vector-search backend. Collections partition facts by policy and stage
// (e.g. "user_controlled_inbox", "hybrid_bank"); all uniqueness and scope
// filtering happens within a single collection.
//
// Implementations hold their connection for the store's lifetime; callers
// never manage per-operation connections.
type FactStore interface {
	// Insert upserts a fact keyed by its ID. Re-inserting an existing ID
	// overwrites the row rather than creating a duplicate.
	Insert(ctx context.Context, collection string, fact model.Fact) error

	// FetchByScope returns up to limit facts for a scope, most recent first.
	FetchByScope(ctx context.Context, collection, scopeID string, limit int) ([]model.Fact, error)

	// FetchRecent returns up to limit facts across all scopes, most recent first.
	FetchRecent(ctx context.Context, collection string, limit int) ([]model.Fact, error)

	// FetchByID returns the fact with the given ID, or (nil, nil) when absent.
	FetchByID(ctx context.Context, collection string, id uuid.UUID) (*model.Fact, error)

	// HybridSearch runs combined semantic+lexical retrieval over fact content.
	// An empty scopeID searches the whole collection.
	HybridSearch(ctx context.Context, collection, query, scopeID string, limit int) ([]ScoredFact, error)

	// NearestNeighbor returns the k facts semantically closest to the query
	// text within a scope, nearest first.
	NearestNeighbor(ctx context.Context, collection, query, scopeID string, k int) ([]FactDistance, error)

	// Update mutates the supplied fields of an existing fact. Updating a
	// missing ID is an error the caller is expected to tolerate.
	Update(ctx context.Context, collection string, id uuid.UUID, upd FactUpdate) error

	// DeleteByID removes a fact. Deleting a missing ID is not an error.
	DeleteByID(ctx context.Context, collection string, id uuid.UUID) error

	// ScopeLike returns facts whose scope_id contains the given substring.
	ScopeLike(ctx context.Context, collection, substring string, limit int) ([]model.Fact, error)

	// Name returns the plugin name (e.g. "qdrant", "pgvector").
	Name() string
}

// Loader creates a FactStore from config.
type Loader func(ctx context.Context) (FactStore, error)

// Plugin represents a fact store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a fact store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered fact store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named fact store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
