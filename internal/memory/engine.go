package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/EZFRICA/context-engineering/internal/registry/cache"
	"github.com/EZFRICA/context-engineering/internal/registry/extract"
	"github.com/EZFRICA/context-engineering/internal/registry/store"
)

// Engine implements the memory lifecycle over a FactStore: capture, staging,
// approval, retrieval, and reconciliation. One Engine serves all policies;
// the policy argument on each operation selects the collections involved.
type Engine struct {
	store          store.FactStore
	extractor      extract.Extractor
	cache          cache.ContextCache
	dedupThreshold float64
	contextLimit   int
	editorLimit    int
	reconcileLimit int
	cacheTTL       time.Duration
	syncIngestion  bool

	ingest sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtractor sets the fact extractor used by interaction ingestion.
func WithExtractor(x extract.Extractor) Option {
	return func(e *Engine) { e.extractor = x }
}

// WithCache sets the mounted-context cache.
func WithCache(c cache.ContextCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithDedupThreshold sets the semantic distance below which an incoming
// machine-extracted fact is considered a duplicate and discarded.
func WithDedupThreshold(t float64) Option {
	return func(e *Engine) { e.dedupThreshold = t }
}

// WithContextLimit sets how many facts a mounted context block includes.
func WithContextLimit(n int) Option {
	return func(e *Engine) { e.contextLimit = n }
}

// WithEditorLimit caps how many facts the editor view returns per stage.
func WithEditorLimit(n int) Option {
	return func(e *Engine) { e.editorLimit = n }
}

// WithReconcileLimit caps the stored snapshot a reconcile compares against.
func WithReconcileLimit(n int) Option {
	return func(e *Engine) { e.reconcileLimit = n }
}

// WithCacheTTL sets how long mounted context blocks stay cached.
func WithCacheTTL(d time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = d }
}

// WithSyncIngestion makes IngestInteraction run inline instead of in a
// background goroutine. Used by tests and batch tooling.
func WithSyncIngestion(sync bool) Option {
	return func(e *Engine) { e.syncIngestion = sync }
}

// NewEngine creates an Engine on top of the given fact store.
func NewEngine(s store.FactStore, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		dedupThreshold: 0.15,
		contextLimit:   5,
		editorLimit:    100,
		reconcileLimit: 500,
		cacheTTL:       5 * time.Minute,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AddFact stores a manually supplied fact directly in the approved bank.
// Manual entries skip the duplicate gate and never carry the machine tag;
// the caller vouches for them. Returns the stored fact.
func (e *Engine) AddFact(ctx context.Context, p Policy, scopeID, content string, tags []string, payload map[string]any) (*model.Fact, error) {
	scopeID = model.NormalizeScopeID(scopeID)
	if content == "" {
		return nil, fmt.Errorf("fact content must not be empty")
	}
	f := model.NewFact(scopeID, content, tags, payload)
	now := time.Now().UTC()
	f.ApprovedAt = &now
	if err := e.store.Insert(ctx, p.BankCollection(), f); err != nil {
		return nil, fmt.Errorf("storing fact: %w", err)
	}
	e.invalidateContext(ctx, p, scopeID)
	return &f, nil
}

// RecordCandidate runs a machine-extracted candidate through the duplicate
// gate and, if it survives, stores it according to the policy: staging
// policies put it in the pending inbox, others in the approved bank (tagged
// with the policy's auto tag when one is defined). Returns false when the
// candidate was discarded as a near-duplicate.
func (e *Engine) RecordCandidate(ctx context.Context, p Policy, scopeID string, cand model.CandidateFact) (bool, error) {
	scopeID = model.NormalizeScopeID(scopeID)
	if cand.Content == "" {
		return false, nil
	}
	dup, err := e.isDuplicate(ctx, p, scopeID, cand.Content)
	if err != nil {
		return false, err
	}
	if dup {
		log.Debug("Discarding near-duplicate fact", "policy", p.Name, "scopeId", scopeID)
		return false, nil
	}

	tags := cand.Tags
	if p.AutoTag != "" {
		tags = appendTag(tags, p.AutoTag)
	}
	f := model.NewFact(scopeID, cand.Content, tags, cand.Payload)

	collection := p.BankCollection()
	if p.HasStaging {
		collection = p.InboxCollection()
	} else {
		now := time.Now().UTC()
		f.ApprovedAt = &now
	}
	if err := e.store.Insert(ctx, collection, f); err != nil {
		return false, fmt.Errorf("storing fact: %w", err)
	}
	if !p.HasStaging {
		e.invalidateContext(ctx, p, scopeID)
	}
	return true, nil
}

// isDuplicate checks the nearest stored neighbor of the content within the
// scope. Staging policies gate against both the bank and the inbox so a
// pending fact is not proposed twice.
func (e *Engine) isDuplicate(ctx context.Context, p Policy, scopeID, content string) (bool, error) {
	collections := []string{p.BankCollection()}
	if p.HasStaging {
		collections = append(collections, p.InboxCollection())
	}
	for _, c := range collections {
		near, err := e.store.NearestNeighbor(ctx, c, content, scopeID, 1)
		if err != nil {
			return false, fmt.Errorf("duplicate check in %s: %w", c, err)
		}
		if len(near) > 0 && near[0].Distance < e.dedupThreshold {
			return true, nil
		}
	}
	return false, nil
}

// ApproveFact moves a pending fact from the inbox to the approved bank,
// stamping its approval time. Approving an ID that is not in the inbox is a
// silent no-op so that double-submits and races resolve cleanly; the
// returned fact is nil in that case.
func (e *Engine) ApproveFact(ctx context.Context, p Policy, scopeID string, id uuid.UUID) (*model.Fact, error) {
	if !p.HasStaging {
		return nil, fmt.Errorf("policy %s has no pending stage", p.Name)
	}
	scopeID = model.NormalizeScopeID(scopeID)
	f, err := e.store.FetchByID(ctx, p.InboxCollection(), id)
	if err != nil {
		return nil, fmt.Errorf("fetching pending fact: %w", err)
	}
	if f == nil {
		log.Debug("Approve of unknown pending fact ignored", "policy", p.Name, "factId", id)
		return nil, nil
	}
	now := time.Now().UTC()
	f.ApprovedAt = &now
	if err := e.store.Insert(ctx, p.BankCollection(), *f); err != nil {
		return nil, fmt.Errorf("promoting fact: %w", err)
	}
	if err := e.store.DeleteByID(ctx, p.InboxCollection(), id); err != nil {
		// The fact is live in the bank; a stale inbox row only risks a
		// redundant re-approval, which is itself a no-op.
		log.Warn("Approved fact left in inbox", "policy", p.Name, "factId", id, "err", err)
	}
	e.invalidateContext(ctx, p, scopeID)
	return f, nil
}

// UpdateFact edits the content or tags of an existing fact, looking in the
// pending inbox first so an edit lands on the copy a person is about to
// approve. The fact keeps its identity and timestamps. Updating an unknown
// ID is a logged no-op returning nil; concurrent human and agent edits on
// the same fact must not fail either actor.
func (e *Engine) UpdateFact(ctx context.Context, p Policy, scopeID string, id uuid.UUID, upd store.FactUpdate) (*model.Fact, error) {
	scopeID = model.NormalizeScopeID(scopeID)
	for _, c := range e.collections(p) {
		f, err := e.store.FetchByID(ctx, c, id)
		if err != nil {
			return nil, fmt.Errorf("fetching fact: %w", err)
		}
		if f == nil {
			continue
		}
		if err := e.store.Update(ctx, c, id, upd); err != nil {
			return nil, fmt.Errorf("updating fact: %w", err)
		}
		if upd.Content != nil {
			f.Content = *upd.Content
		}
		if upd.Tags != nil {
			f.Tags = upd.Tags
		}
		e.invalidateContext(ctx, p, scopeID)
		return f, nil
	}
	log.Debug("Update of unknown fact ignored", "policy", p.Name, "factId", id)
	return nil, nil
}

// DeleteFact removes a fact from wherever it lives. Deleting an unknown ID
// succeeds.
func (e *Engine) DeleteFact(ctx context.Context, p Policy, scopeID string, id uuid.UUID) error {
	scopeID = model.NormalizeScopeID(scopeID)
	for _, c := range e.collections(p) {
		if err := e.store.DeleteByID(ctx, c, id); err != nil {
			return fmt.Errorf("deleting fact: %w", err)
		}
	}
	e.invalidateContext(ctx, p, scopeID)
	return nil
}

// EditorView returns the approved and pending facts of a scope for a
// management UI. Pending is always empty for policies without staging.
func (e *Engine) EditorView(ctx context.Context, p Policy, scopeID string) (approved, pending []model.Fact, err error) {
	scopeID = model.NormalizeScopeID(scopeID)
	approved, err = e.store.FetchByScope(ctx, p.BankCollection(), scopeID, e.editorLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching approved facts: %w", err)
	}
	if p.HasStaging {
		pending, err = e.store.FetchByScope(ctx, p.InboxCollection(), scopeID, e.editorLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("fetching pending facts: %w", err)
		}
	}
	return approved, pending, nil
}

// collections lists a policy's stores, pending inbox first.
func (e *Engine) collections(p Policy) []string {
	var cs []string
	if p.HasStaging {
		cs = append(cs, p.InboxCollection())
	}
	return append(cs, p.BankCollection())
}

func (e *Engine) invalidateContext(ctx context.Context, p Policy, scopeID string) {
	if e.cache == nil || !e.cache.Available() {
		return
	}
	if err := e.cache.Remove(ctx, p.Name, scopeID); err != nil {
		log.Warn("Context cache invalidation failed", "policy", p.Name, "scopeId", scopeID, "err", err)
	}
}

func appendTag(tags []string, tag string) []string {
	for _, t := range tags {
		if t == tag {
			return tags
		}
	}
	return append(append([]string{}, tags...), tag)
}
