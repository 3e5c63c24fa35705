package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/EZFRICA/context-engineering/internal/registry/store"
	"github.com/EZFRICA/context-engineering/internal/security"
)

// Wrap returns a FactStore that records StoreLatency for every operation.
func Wrap(inner store.FactStore) store.FactStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.FactStore
}

func observe(op string, start time.Time) {
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) Insert(ctx context.Context, collection string, fact model.Fact) error {
	defer observe("insert", time.Now())
	return m.inner.Insert(ctx, collection, fact)
}

func (m *metricsStore) FetchByScope(ctx context.Context, collection, scopeID string, limit int) ([]model.Fact, error) {
	defer observe("fetch_by_scope", time.Now())
	return m.inner.FetchByScope(ctx, collection, scopeID, limit)
}

func (m *metricsStore) FetchRecent(ctx context.Context, collection string, limit int) ([]model.Fact, error) {
	defer observe("fetch_recent", time.Now())
	return m.inner.FetchRecent(ctx, collection, limit)
}

func (m *metricsStore) FetchByID(ctx context.Context, collection string, id uuid.UUID) (*model.Fact, error) {
	defer observe("fetch_by_id", time.Now())
	return m.inner.FetchByID(ctx, collection, id)
}

func (m *metricsStore) HybridSearch(ctx context.Context, collection, query, scopeID string, limit int) ([]store.ScoredFact, error) {
	defer observe("hybrid_search", time.Now())
	return m.inner.HybridSearch(ctx, collection, query, scopeID, limit)
}

func (m *metricsStore) NearestNeighbor(ctx context.Context, collection, query, scopeID string, k int) ([]store.FactDistance, error) {
	defer observe("nearest_neighbor", time.Now())
	return m.inner.NearestNeighbor(ctx, collection, query, scopeID, k)
}

func (m *metricsStore) Update(ctx context.Context, collection string, id uuid.UUID, upd store.FactUpdate) error {
	defer observe("update", time.Now())
	return m.inner.Update(ctx, collection, id, upd)
}

func (m *metricsStore) DeleteByID(ctx context.Context, collection string, id uuid.UUID) error {
	defer observe("delete_by_id", time.Now())
	return m.inner.DeleteByID(ctx, collection, id)
}

func (m *metricsStore) ScopeLike(ctx context.Context, collection, substring string, limit int) ([]model.Fact, error) {
	defer observe("scope_like", time.Now())
	return m.inner.ScopeLike(ctx, collection, substring, limit)
}

func (m *metricsStore) Name() string {
	return m.inner.Name()
}
