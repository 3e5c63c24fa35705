package memory_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/EZFRICA/context-engineering/internal/memory"
	"github.com/EZFRICA/context-engineering/internal/model"
	"github.com/EZFRICA/context-engineering/internal/plugin/embed/local"
	"github.com/EZFRICA/context-engineering/internal/plugin/store/memstore"
	"github.com/EZFRICA/context-engineering/internal/registry/store"
)

func newTestEngine(t *testing.T, opts ...memory.Option) (*memory.Engine, *memstore.MemStore) {
	t.Helper()
	s := memstore.New(&local.LocalEmbedder{})
	return memory.NewEngine(s, opts...), s
}

func policy(t *testing.T, name string) memory.Policy {
	t.Helper()
	p, ok := memory.PolicyByName(name)
	require.True(t, ok)
	return p
}

func TestAddFact_StoresApprovedAndIdempotent(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "opaque")
	ctx := context.Background()

	f, err := e.AddFact(ctx, p, "Tokyo 2025", "User prefers window seats", []string{"seating"}, nil)
	require.NoError(t, err)
	require.Equal(t, "tokyo_2025", f.ScopeID)
	require.NotNil(t, f.ApprovedAt)
	require.Equal(t, model.FactID("tokyo_2025", "User prefers window seats"), f.ID)

	// Same content again lands on the same row.
	f2, err := e.AddFact(ctx, p, "tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, err)
	require.Equal(t, f.ID, f2.ID)

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
}

func TestAddFact_RejectsEmptyContent(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.AddFact(context.Background(), policy(t, "opaque"), "tokyo_2025", "", nil, nil)
	require.Error(t, err)
}

func TestRecordCandidate_OpaqueGoesStraightToBank(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "opaque")
	ctx := context.Background()

	stored, err := e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "Traveling with two young kids"})
	require.NoError(t, err)
	require.True(t, stored)

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].ApprovedAt)
	require.Empty(t, facts[0].Tags)
}

func TestRecordCandidate_DiscardsNearDuplicate(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "opaque")
	ctx := context.Background()

	stored, err := e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User is vegetarian"})
	require.NoError(t, err)
	require.True(t, stored)

	// Identical content embeds to the same vector, distance zero.
	stored, err = e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User is vegetarian"})
	require.NoError(t, err)
	require.False(t, stored)

	stored, err = e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "Budget around 3000 euros total"})
	require.NoError(t, err)
	require.True(t, stored)

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 2)
}

func TestRecordCandidate_StagingGoesToInboxUnstamped(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "user_controlled")
	ctx := context.Background()

	stored, err := e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User speaks basic Japanese"})
	require.NoError(t, err)
	require.True(t, stored)

	pending, err := s.FetchByScope(ctx, p.InboxCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Nil(t, pending[0].ApprovedAt)

	bank, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Empty(t, bank)

	// A pending fact also gates the duplicate check.
	stored, err = e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User speaks basic Japanese"})
	require.NoError(t, err)
	require.False(t, stored)
}

func TestRecordCandidate_HybridAutoTags(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "hybrid")
	ctx := context.Background()

	stored, err := e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User avoids overnight flights", Tags: []string{"flights"}})
	require.NoError(t, err)
	require.True(t, stored)

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.NotNil(t, facts[0].ApprovedAt)
	require.True(t, facts[0].HasTag("auto"))
	require.True(t, facts[0].HasTag("flights"))
}

func TestApproveFact_MovesInboxToBank(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "user_controlled")
	ctx := context.Background()

	_, err := e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User speaks basic Japanese"})
	require.NoError(t, err)
	id := model.FactID("tokyo_2025", "User speaks basic Japanese")

	f, err := e.ApproveFact(ctx, p, "tokyo_2025", id)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.NotNil(t, f.ApprovedAt)

	bank, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, bank, 1)
	pending, err := s.FetchByScope(ctx, p.InboxCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestApproveFact_UnknownIDIsSilentNoop(t *testing.T) {
	e, _ := newTestEngine(t)
	p := policy(t, "user_controlled")

	f, err := e.ApproveFact(context.Background(), p, "tokyo_2025", uuid.New())
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestApproveFact_RejectsPolicyWithoutStaging(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.ApproveFact(context.Background(), policy(t, "opaque"), "tokyo_2025", uuid.New())
	require.Error(t, err)
}

func TestUpdateFact_EditsBankAndInbox(t *testing.T) {
	e, _ := newTestEngine(t)
	p := policy(t, "user_controlled")
	ctx := context.Background()

	approved, err := e.AddFact(ctx, p, "tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, err)

	newContent := "User prefers aisle seats"
	f, err := e.UpdateFact(ctx, p, "tokyo_2025", approved.ID, store.FactUpdate{Content: &newContent})
	require.NoError(t, err)
	require.Equal(t, newContent, f.Content)

	// Pending facts are editable too.
	_, err = e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "Budget is flexible"})
	require.NoError(t, err)
	pendingID := model.FactID("tokyo_2025", "Budget is flexible")
	f, err = e.UpdateFact(ctx, p, "tokyo_2025", pendingID, store.FactUpdate{Tags: []string{"budget"}})
	require.NoError(t, err)
	require.True(t, f.HasTag("budget"))
}

func TestUpdateFact_UnknownIDIsSilentNoop(t *testing.T) {
	e, _ := newTestEngine(t)
	content := "anything"
	f, err := e.UpdateFact(context.Background(), policy(t, "opaque"), "tokyo_2025", uuid.New(), store.FactUpdate{Content: &content})
	require.NoError(t, err)
	require.Nil(t, f)
}

func TestUpdateFact_PrefersInboxCopy(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "user_controlled")
	ctx := context.Background()

	// Same ID in both stores, as after an approve that crashed before
	// cleaning the inbox. The edit must land on the pending copy.
	f := model.NewFact("tokyo_2025", "User speaks basic Japanese", nil, nil)
	require.NoError(t, s.Insert(ctx, p.InboxCollection(), f))
	require.NoError(t, s.Insert(ctx, p.BankCollection(), f))

	newContent := "User speaks fluent Japanese"
	updated, err := e.UpdateFact(ctx, p, "tokyo_2025", f.ID, store.FactUpdate{Content: &newContent})
	require.NoError(t, err)
	require.Equal(t, newContent, updated.Content)

	pending, err := s.FetchByID(ctx, p.InboxCollection(), f.ID)
	require.NoError(t, err)
	require.Equal(t, newContent, pending.Content)

	bank, err := s.FetchByID(ctx, p.BankCollection(), f.ID)
	require.NoError(t, err)
	require.Equal(t, "User speaks basic Japanese", bank.Content)
}

func TestDeleteFact_RemovesAndIsIdempotent(t *testing.T) {
	e, s := newTestEngine(t)
	p := policy(t, "opaque")
	ctx := context.Background()

	f, err := e.AddFact(ctx, p, "tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.DeleteFact(ctx, p, "tokyo_2025", f.ID))

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Empty(t, facts)

	require.NoError(t, e.DeleteFact(ctx, p, "tokyo_2025", f.ID))
}

func TestEditorView_SplitsApprovedAndPending(t *testing.T) {
	e, _ := newTestEngine(t)
	p := policy(t, "user_controlled")
	ctx := context.Background()

	_, err := e.AddFact(ctx, p, "tokyo_2025", "User prefers window seats", nil, nil)
	require.NoError(t, err)
	_, err = e.RecordCandidate(ctx, p, "tokyo_2025", model.CandidateFact{Content: "User speaks basic Japanese"})
	require.NoError(t, err)

	approved, pending, err := e.EditorView(ctx, p, "tokyo_2025")
	require.NoError(t, err)
	require.Len(t, approved, 1)
	require.Len(t, pending, 1)
	require.Equal(t, "User prefers window seats", approved[0].Content)
	require.Equal(t, "User speaks basic Japanese", pending[0].Content)
}
