package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/EZFRICA/context-engineering/internal/plugin/embed/local"
	"github.com/EZFRICA/context-engineering/internal/plugin/store/memstore"
	registrystore "github.com/EZFRICA/context-engineering/internal/registry/store"
)

func newStore(t *testing.T) *memstore.MemStore {
	t.Helper()
	return memstore.New(&local.LocalEmbedder{})
}

func TestInsertAndFetch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	f := model.NewFact("tokyo_2025", "User prefers window seats", []string{"seating"}, nil)

	require.NoError(t, s.Insert(ctx, "opaque_bank", f))

	got, err := s.FetchByID(ctx, "opaque_bank", f.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, f.Content, got.Content)
	require.Equal(t, f.Tags, got.Tags)

	missing, err := s.FetchByID(ctx, "opaque_bank", uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestFetchByScope_FiltersAndOrdersRecentFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	older := model.NewFact("tokyo_2025", "Older fact", nil, nil)
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	newer := model.NewFact("tokyo_2025", "Newer fact", nil, nil)
	other := model.NewFact("lisbon_2026", "Unrelated fact", nil, nil)

	require.NoError(t, s.Insert(ctx, "opaque_bank", older))
	require.NoError(t, s.Insert(ctx, "opaque_bank", newer))
	require.NoError(t, s.Insert(ctx, "opaque_bank", other))

	facts, err := s.FetchByScope(ctx, "opaque_bank", "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	require.Equal(t, "Newer fact", facts[0].Content)
	require.Equal(t, "Older fact", facts[1].Content)

	limited, err := s.FetchByScope(ctx, "opaque_bank", "tokyo_2025", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestHybridSearch_LexicalMatchOutranksSemantic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	exact := model.NewFact("tokyo_2025", "User loves sushi", nil, nil)
	loose := model.NewFact("tokyo_2025", "User loves ramen and sushi and tempura", nil, nil)
	require.NoError(t, s.Insert(ctx, "opaque_bank", exact))
	require.NoError(t, s.Insert(ctx, "opaque_bank", loose))

	hits, err := s.HybridSearch(ctx, "opaque_bank", "loves sushi", "tokyo_2025", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	// Only the first content contains the query verbatim and takes the bonus.
	require.Equal(t, exact.ID, hits[0].Fact.ID)
	require.Greater(t, hits[0].Score, hits[1].Score)
}

func TestHybridSearch_EmptyScopeSearchesAllScopes(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("tokyo_2025", "User loves sushi", nil, nil)))
	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("lisbon_2026", "Sushi place near the hotel", nil, nil)))

	hits, err := s.HybridSearch(ctx, "opaque_bank", "sushi", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	scoped, err := s.HybridSearch(ctx, "opaque_bank", "sushi", "tokyo_2025", 10)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
}

func TestNearestNeighbor_IdenticalContentIsZeroDistance(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("tokyo_2025", "User is vegetarian", nil, nil)))
	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("tokyo_2025", "Budget around 3000 euros", nil, nil)))

	near, err := s.NearestNeighbor(ctx, "opaque_bank", "User is vegetarian", "tokyo_2025", 1)
	require.NoError(t, err)
	require.Len(t, near, 1)
	require.Equal(t, "User is vegetarian", near[0].Fact.Content)
	require.InDelta(t, 0, near[0].Distance, 1e-6)
}

func TestUpdate_ReembedsContent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	f := model.NewFact("tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, s.Insert(ctx, "opaque_bank", f))

	content := "User prefers aisle seats"
	require.NoError(t, s.Update(ctx, "opaque_bank", f.ID, registrystore.FactUpdate{Content: &content, Tags: []string{"seating"}}))

	got, err := s.FetchByID(ctx, "opaque_bank", f.ID)
	require.NoError(t, err)
	require.Equal(t, content, got.Content)
	require.Equal(t, []string{"seating"}, got.Tags)

	// The new content is now the nearest match for itself.
	near, err := s.NearestNeighbor(ctx, "opaque_bank", content, "tokyo_2025", 1)
	require.NoError(t, err)
	require.InDelta(t, 0, near[0].Distance, 1e-6)
}

func TestUpdate_UnknownIDIsNotFound(t *testing.T) {
	s := newStore(t)
	content := "anything"
	err := s.Update(context.Background(), "opaque_bank", uuid.New(), registrystore.FactUpdate{Content: &content})
	require.True(t, registrystore.IsNotFound(err))
}

func TestUpdate_DoesNotResurrectDeletedFact(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	f := model.NewFact("tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, s.Insert(ctx, "opaque_bank", f))
	require.NoError(t, s.DeleteByID(ctx, "opaque_bank", f.ID))

	// An update losing the race against a delete must not write the record
	// back.
	content := "User prefers aisle seats"
	err := s.Update(ctx, "opaque_bank", f.ID, registrystore.FactUpdate{Content: &content})
	require.True(t, registrystore.IsNotFound(err))

	got, err := s.FetchByID(ctx, "opaque_bank", f.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteByID_Idempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	f := model.NewFact("tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, s.Insert(ctx, "opaque_bank", f))

	require.NoError(t, s.DeleteByID(ctx, "opaque_bank", f.ID))
	require.NoError(t, s.DeleteByID(ctx, "opaque_bank", f.ID))

	got, err := s.FetchByID(ctx, "opaque_bank", f.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestScopeLike(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("tokyo_2025", "a", nil, nil)))
	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("tokyo_2026", "b", nil, nil)))
	require.NoError(t, s.Insert(ctx, "opaque_bank", model.NewFact("lisbon_2026", "c", nil, nil)))

	facts, err := s.ScopeLike(ctx, "opaque_bank", "tokyo", 0)
	require.NoError(t, err)
	require.Len(t, facts, 2)
}
