package memstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/EZFRICA/context-engineering/internal/model"
	registryembed "github.com/EZFRICA/context-engineering/internal/registry/embed"
	registrystore "github.com/EZFRICA/context-engineering/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name:   "memory",
		Loader: load,
	})
}

func load(ctx context.Context) (registrystore.FactStore, error) {
	embedder := registryembed.FromContext(ctx)
	if embedder == nil {
		return nil, fmt.Errorf("memstore: missing embedder in context")
	}
	return New(embedder), nil
}

// MemStore is an in-process fact store used for development and tests. It
// runs real embeddings through the configured embedder so search behavior
// matches the durable backends.
type MemStore struct {
	embedder registryembed.Embedder

	mu   sync.RWMutex
	data map[string]map[uuid.UUID]record
}

type record struct {
	fact   model.Fact
	vector []float32
}

// New creates an empty MemStore over the given embedder.
func New(embedder registryembed.Embedder) *MemStore {
	return &MemStore{
		embedder: embedder,
		data:     map[string]map[uuid.UUID]record{},
	}
}

func (s *MemStore) Name() string { return "memory" }

func (s *MemStore) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for one text", len(vecs))
	}
	return vecs[0], nil
}

func (s *MemStore) Insert(ctx context.Context, collection string, fact model.Fact) error {
	vec, err := s.embedOne(ctx, fact.Content)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = map[uuid.UUID]record{}
	}
	s.data[collection][fact.ID] = record{fact: fact, vector: vec}
	return nil
}

func (s *MemStore) FetchByScope(_ context.Context, collection, scopeID string, limit int) ([]model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fact
	for _, r := range s.data[collection] {
		if r.fact.ScopeID == scopeID {
			out = append(out, r.fact)
		}
	}
	return recentFirst(out, limit), nil
}

func (s *MemStore) FetchRecent(_ context.Context, collection string, limit int) ([]model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fact
	for _, r := range s.data[collection] {
		out = append(out, r.fact)
	}
	return recentFirst(out, limit), nil
}

func (s *MemStore) FetchByID(_ context.Context, collection string, id uuid.UUID) (*model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[collection][id]
	if !ok {
		return nil, nil
	}
	f := r.fact
	return &f, nil
}

func (s *MemStore) HybridSearch(ctx context.Context, collection, query, scopeID string, limit int) ([]registrystore.ScoredFact, error) {
	qv, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registrystore.ScoredFact
	for _, r := range s.data[collection] {
		if scopeID != "" && r.fact.ScopeID != scopeID {
			continue
		}
		score := float64(cosine(qv, r.vector))
		if strings.Contains(strings.ToLower(r.fact.Content), needle) {
			// Lexical bonus so exact mentions beat loose semantic matches.
			score += 0.25
		}
		out = append(out, registrystore.ScoredFact{Fact: r.fact, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) NearestNeighbor(ctx context.Context, collection, query, scopeID string, k int) ([]registrystore.FactDistance, error) {
	qv, err := s.embedOne(ctx, query)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []registrystore.FactDistance
	for _, r := range s.data[collection] {
		if scopeID != "" && r.fact.ScopeID != scopeID {
			continue
		}
		out = append(out, registrystore.FactDistance{
			Fact:     r.fact,
			Distance: 1 - float64(cosine(qv, r.vector)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *MemStore) Update(ctx context.Context, collection string, id uuid.UUID, upd registrystore.FactUpdate) error {
	// Embed before taking the lock; the write-back must not resurrect a
	// record deleted concurrently.
	var vec []float32
	if upd.Content != nil {
		v, err := s.embedOne(ctx, *upd.Content)
		if err != nil {
			return err
		}
		vec = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[collection][id]
	if !ok {
		return &registrystore.NotFoundError{Collection: collection, ID: id.String()}
	}
	if upd.Content != nil {
		r.fact.Content = *upd.Content
		r.vector = vec
	}
	if upd.Tags != nil {
		r.fact.Tags = upd.Tags
	}
	s.data[collection][id] = r
	return nil
}

func (s *MemStore) DeleteByID(_ context.Context, collection string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[collection], id)
	return nil
}

func (s *MemStore) ScopeLike(_ context.Context, collection, substring string, limit int) ([]model.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fact
	for _, r := range s.data[collection] {
		if strings.Contains(r.fact.ScopeID, substring) {
			out = append(out, r.fact)
		}
	}
	return recentFirst(out, limit), nil
}

func recentFirst(facts []model.Fact, limit int) []model.Fact {
	sort.Slice(facts, func(i, j int) bool {
		if !facts[i].CreatedAt.Equal(facts[j].CreatedAt) {
			return facts[i].CreatedAt.After(facts[j].CreatedAt)
		}
		return facts[i].ID.String() < facts[j].ID.String()
	})
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return facts
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

var _ registrystore.FactStore = (*MemStore)(nil)
