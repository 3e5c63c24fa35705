package memory

import (
	"context"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/EZFRICA/context-engineering/internal/model"
)

// ScopeSummary is one entry of the scope directory: a scope that holds
// facts relevant to a query, with a few sample contents for preview.
type ScopeSummary struct {
	ScopeID   string   `json:"scope_id"`
	Policy    string   `json:"policy"`
	Score     float64  `json:"score"`
	FactCount int      `json:"fact_count"`
	Samples   []string `json:"samples"`
}

// scopeSampleCount is how many fact contents a directory entry previews.
const scopeSampleCount = 3

// FindScopes searches the approved banks of the given policies for scopes
// relevant to the query, by fact content and by scope name. Results are
// ranked by the best score any of a scope's facts achieved. Scope-name
// matches that carry no content hit rank below all content hits. An empty
// query lists the scopes holding the most recent facts, unscored.
func (e *Engine) FindScopes(ctx context.Context, ps []Policy, query string, limit int) ([]ScopeSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	type bucket struct {
		policy string
		score  float64
		facts  []model.Fact
	}
	buckets := map[string]*bucket{}

	add := func(policy string, f model.Fact, score float64) {
		key := policy + "/" + f.ScopeID
		b := buckets[key]
		if b == nil {
			b = &bucket{policy: policy, score: score}
			buckets[key] = b
		}
		if score > b.score {
			b.score = score
		}
		b.facts = append(b.facts, f)
	}

	// Fan out wider than the requested limit; many hits collapse into the
	// same scope.
	fanout := limit * 5
	for _, p := range ps {
		// Directory lookups degrade to whatever the other strategy or
		// policy still finds instead of failing the caller.
		if query == "" {
			recent, err := e.store.FetchRecent(ctx, p.BankCollection(), fanout)
			if err != nil {
				log.Warn("Recent scope listing failed", "collection", p.BankCollection(), "err", err)
			}
			for _, f := range recent {
				add(p.Name, f, 0)
			}
			continue
		}

		hits, err := e.store.HybridSearch(ctx, p.BankCollection(), query, "", fanout)
		if err != nil {
			log.Warn("Scope content search failed", "collection", p.BankCollection(), "err", err)
		}
		for _, h := range hits {
			add(p.Name, h.Fact, h.Score)
		}

		named, err := e.store.ScopeLike(ctx, p.BankCollection(), model.NormalizeScopeID(query), fanout)
		if err != nil {
			log.Warn("Scope name search failed", "collection", p.BankCollection(), "err", err)
		}
		for _, f := range named {
			add(p.Name, f, 0)
		}
	}

	out := make([]ScopeSummary, 0, len(buckets))
	for _, b := range buckets {
		seen := map[string]bool{}
		s := ScopeSummary{Policy: b.policy, Score: b.score}
		for _, f := range b.facts {
			if seen[f.ID.String()] {
				continue
			}
			seen[f.ID.String()] = true
			s.ScopeID = f.ScopeID
			s.FactCount++
			if len(s.Samples) < scopeSampleCount {
				s.Samples = append(s.Samples, f.Content)
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ScopeID < out[j].ScopeID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
