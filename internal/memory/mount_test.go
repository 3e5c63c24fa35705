package memory_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EZFRICA/context-engineering/internal/memory"
	"github.com/EZFRICA/context-engineering/internal/model"
)

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}}
}

func (c *fakeCache) Available() bool { return true }

func (c *fakeCache) Get(_ context.Context, system, scopeID string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[system+"/"+scopeID]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, system, scopeID, rendered string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[system+"/"+scopeID] = rendered
	c.sets++
	return nil
}

func (c *fakeCache) Remove(_ context.Context, system, scopeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, system+"/"+scopeID)
	return nil
}

func TestMountContext_EmptyScopeYieldsSentinel(t *testing.T) {
	e, _ := newTestEngine(t)
	block, err := e.MountContext(context.Background(), policy(t, "opaque"), "tokyo_2025", "")
	require.NoError(t, err)
	require.Equal(t, "No existing memories for this context.", block)
}

func TestMountContext_RendersBulletsWithTags(t *testing.T) {
	e, _ := newTestEngine(t)
	p := policy(t, "opaque")
	ctx := context.Background()

	_, err := e.AddFact(ctx, p, "tokyo_2025", "User prefers window seats", []string{"seating", "flights"}, nil)
	require.NoError(t, err)

	block, err := e.MountContext(ctx, p, "tokyo_2025", "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(block, "Memory Context (Scope: tokyo_2025):"))
	require.Contains(t, block, "- User prefers window seats [seating, flights]")
}

func TestMountContext_HeaderNamesNormalizedScope(t *testing.T) {
	e, _ := newTestEngine(t)
	p := policy(t, "opaque")
	ctx := context.Background()

	_, err := e.AddFact(ctx, p, "Paris Trip", "User is vegetarian", nil, nil)
	require.NoError(t, err)

	// The header carries the scope so an agent juggling several mounted
	// blocks can tell them apart.
	block, err := e.MountContext(ctx, p, "Paris Trip", "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(block, "Memory Context (Scope: paris_trip):"))
}

func TestMountContext_PendingFactsAreInvisible(t *testing.T) {
	e, _ := newTestEngine(t)
	p := policy(t, "user_controlled")
	ctx := context.Background()

	_, err := e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User speaks basic Japanese"})
	require.NoError(t, err)

	block, err := e.MountContext(ctx, p, "tokyo_2025", "")
	require.NoError(t, err)
	require.Equal(t, "No existing memories for this context.", block)
}

func TestMountContext_QueryFocusesResults(t *testing.T) {
	e, _ := newTestEngine(t, memory.WithContextLimit(1))
	p := policy(t, "opaque")
	ctx := context.Background()

	_, err := e.AddFact(ctx, p, "tokyo_2025", "User is vegetarian", nil, nil)
	require.NoError(t, err)
	_, err = e.AddFact(ctx, p, "tokyo_2025", "Budget around 3000 euros total", nil, nil)
	require.NoError(t, err)

	block, err := e.MountContext(ctx, p, "tokyo_2025", "vegetarian food restaurants")
	require.NoError(t, err)
	require.Contains(t, block, "User is vegetarian")
	require.NotContains(t, block, "Budget around 3000 euros")
}

func TestMountContext_CachesQuerylessMountsAndInvalidatesOnWrite(t *testing.T) {
	cache := newFakeCache()
	e, _ := newTestEngine(t, memory.WithCache(cache))
	p := policy(t, "opaque")
	ctx := context.Background()

	_, err := e.AddFact(ctx, p, "tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, err)

	first, err := e.MountContext(ctx, p, "tokyo_2025", "")
	require.NoError(t, err)
	require.Equal(t, 1, cache.sets)

	// Second mount is served from cache.
	second, err := e.MountContext(ctx, p, "tokyo_2025", "")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, cache.sets)

	// A write drops the cached block; the next mount sees the new fact.
	_, err = e.AddFact(ctx, p, "tokyo_2025", "User is vegetarian", nil, nil)
	require.NoError(t, err)
	third, err := e.MountContext(ctx, p, "tokyo_2025", "")
	require.NoError(t, err)
	require.Contains(t, third, "User is vegetarian")
	require.Equal(t, 2, cache.sets)

	// Query mounts bypass the cache entirely.
	_, err = e.MountContext(ctx, p, "tokyo_2025", "seats")
	require.NoError(t, err)
	require.Equal(t, 2, cache.sets)
}
