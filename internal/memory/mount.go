package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/EZFRICA/context-engineering/internal/model"
)

const (
	contextHeaderFormat = "Memory Context (Scope: %s):"
	contextSentinel     = "No existing memories for this context."
)

// MountContext renders the approved facts of a scope as a text block ready
// to prepend to a prompt. With an empty query the most recent facts are
// used and the result is cacheable; with a query the block is built from a
// hybrid search and never cached. Pending facts are invisible here. Store
// failures degrade to the empty sentinel so a turn never fails on memory.
func (e *Engine) MountContext(ctx context.Context, p Policy, scopeID, query string) (string, error) {
	scopeID = model.NormalizeScopeID(scopeID)

	cacheable := query == "" && e.cache != nil && e.cache.Available()
	if cacheable {
		if block, ok, err := e.cache.Get(ctx, p.Name, scopeID); err != nil {
			log.Warn("Context cache read failed", "policy", p.Name, "scopeId", scopeID, "err", err)
		} else if ok {
			return block, nil
		}
	}

	var facts []model.Fact
	var err error
	if query == "" {
		facts, err = e.store.FetchByScope(ctx, p.BankCollection(), scopeID, e.contextLimit)
	} else {
		hits, herr := e.store.HybridSearch(ctx, p.BankCollection(), query, scopeID, e.contextLimit)
		if herr == nil {
			for _, h := range hits {
				facts = append(facts, h.Fact)
			}
		}
		err = herr
	}
	if err != nil {
		// The conversational turn must not fail on a store outage; the
		// agent just proceeds without memories.
		log.Warn("Context fetch failed, mounting empty context", "policy", p.Name, "scopeId", scopeID, "err", err)
		return contextSentinel, nil
	}

	block := renderContext(scopeID, facts)
	if cacheable {
		if err := e.cache.Set(ctx, p.Name, scopeID, block, e.cacheTTL); err != nil {
			log.Warn("Context cache write failed", "policy", p.Name, "scopeId", scopeID, "err", err)
		}
	}
	return block, nil
}

// renderContext formats facts as a header line naming the scope plus one
// bullet per fact, tags in brackets. No facts yields a fixed sentinel line
// so callers can prompt the model consistently.
func renderContext(scopeID string, facts []model.Fact) string {
	if len(facts) == 0 {
		return contextSentinel
	}
	var b strings.Builder
	fmt.Fprintf(&b, contextHeaderFormat, scopeID)
	for _, f := range facts {
		b.WriteString("\n- ")
		b.WriteString(f.Content)
		if len(f.Tags) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(f.Tags, ", "))
			b.WriteString("]")
		}
	}
	return b.String()
}
