package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/EZFRICA/context-engineering/internal/registry/store"
)

// ReconcileEntry is one row of a curated scope submission. Entries with an
// ID refer to stored facts; entries without one are new.
type ReconcileEntry struct {
	ID      *uuid.UUID     `json:"id,omitempty"`
	Content string         `json:"content"`
	Tags    []string       `json:"tags,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ReconcileResult reports what a reconcile changed.
type ReconcileResult struct {
	Promoted int `json:"promoted"`
	Updated  int `json:"updated"`
	Inserted int `json:"inserted"`
	Deleted  int `json:"deleted"`
}

// Reconcile replaces a scope's facts with a curated submission, treating the
// submission as the full desired state:
//
//   - an entry whose ID matches a pending fact promotes it to the bank,
//     applying the submitted content and tags
//   - an entry whose ID matches a bank fact updates it in place
//   - an entry without an ID (or with an unknown one) becomes a new
//     approved fact
//   - stored facts absent from the submission are deleted
//
// The stored snapshot is capped; scopes beyond the cap cannot be reconciled
// safely and are rejected rather than silently truncated.
func (e *Engine) Reconcile(ctx context.Context, p Policy, scopeID string, entries []ReconcileEntry) (ReconcileResult, error) {
	scopeID = model.NormalizeScopeID(scopeID)
	var res ReconcileResult

	bank, err := e.store.FetchByScope(ctx, p.BankCollection(), scopeID, e.reconcileLimit)
	if err != nil {
		return res, fmt.Errorf("snapshotting bank: %w", err)
	}
	if len(bank) >= e.reconcileLimit {
		return res, fmt.Errorf("scope %s holds %d+ facts, above the reconcile cap", scopeID, e.reconcileLimit)
	}
	var inbox []model.Fact
	if p.HasStaging {
		inbox, err = e.store.FetchByScope(ctx, p.InboxCollection(), scopeID, e.reconcileLimit)
		if err != nil {
			return res, fmt.Errorf("snapshotting inbox: %w", err)
		}
	}

	inBank := map[uuid.UUID]bool{}
	for _, f := range bank {
		inBank[f.ID] = true
	}
	inInbox := map[uuid.UUID]model.Fact{}
	for _, f := range inbox {
		inInbox[f.ID] = f
	}

	submitted := map[uuid.UUID]bool{}
	for _, entry := range entries {
		if entry.Content == "" {
			log.Warn("Skipping reconcile entry with empty content", "policy", p.Name, "scopeId", scopeID)
			continue
		}
		pending, isPending := model.Fact{}, false
		if entry.ID != nil {
			pending, isPending = inInbox[*entry.ID]
		}
		switch {
		case isPending:
			submitted[*entry.ID] = true
			f := pending
			f.Content = entry.Content
			f.Tags = entry.Tags
			now := time.Now().UTC()
			f.ApprovedAt = &now
			if err := e.store.Insert(ctx, p.BankCollection(), f); err != nil {
				return res, fmt.Errorf("promoting fact %s: %w", f.ID, err)
			}
			if err := e.store.DeleteByID(ctx, p.InboxCollection(), f.ID); err != nil {
				return res, fmt.Errorf("clearing promoted fact %s: %w", f.ID, err)
			}
			res.Promoted++

		case entry.ID != nil && inBank[*entry.ID]:
			submitted[*entry.ID] = true
			upd := store.FactUpdate{Content: &entry.Content, Tags: entry.Tags}
			if err := e.store.Update(ctx, p.BankCollection(), *entry.ID, upd); err != nil {
				return res, fmt.Errorf("updating fact %s: %w", *entry.ID, err)
			}
			res.Updated++

		default:
			if entry.ID != nil {
				log.Warn("Reconcile entry references unknown fact, inserting as new",
					"policy", p.Name, "scopeId", scopeID, "factId", *entry.ID)
			}
			f := model.NewFact(scopeID, entry.Content, entry.Tags, entry.Payload)
			now := time.Now().UTC()
			f.ApprovedAt = &now
			submitted[f.ID] = true
			if err := e.store.Insert(ctx, p.BankCollection(), f); err != nil {
				return res, fmt.Errorf("inserting fact: %w", err)
			}
			res.Inserted++
		}
	}

	for _, f := range bank {
		if submitted[f.ID] {
			continue
		}
		if err := e.store.DeleteByID(ctx, p.BankCollection(), f.ID); err != nil {
			return res, fmt.Errorf("deleting fact %s: %w", f.ID, err)
		}
		res.Deleted++
	}
	for _, f := range inbox {
		if submitted[f.ID] {
			continue
		}
		if err := e.store.DeleteByID(ctx, p.InboxCollection(), f.ID); err != nil {
			return res, fmt.Errorf("deleting pending fact %s: %w", f.ID, err)
		}
		res.Deleted++
	}
	if res.Deleted > 0 {
		log.Warn("Reconcile deleted omitted facts", "policy", p.Name, "scopeId", scopeID, "deleted", res.Deleted)
	}

	e.invalidateContext(ctx, p, scopeID)
	return res, nil
}
