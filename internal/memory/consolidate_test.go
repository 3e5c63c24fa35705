package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/EZFRICA/context-engineering/internal/memory"
	"github.com/EZFRICA/context-engineering/internal/model"
)

type stubExtractor struct {
	candidates []model.CandidateFact
	err        error
}

func (x *stubExtractor) Extract(_ context.Context, _, _, _ string) ([]model.CandidateFact, error) {
	return x.candidates, x.err
}

func (x *stubExtractor) Name() string { return "stub" }

func TestIngestInteraction_SyncStoresExtractedFacts(t *testing.T) {
	x := &stubExtractor{candidates: []model.CandidateFact{
		{Content: "User is vegetarian"},
		{Content: "Budget around 3000 euros total"},
	}}
	e, s := newTestEngine(t, memory.WithExtractor(x), memory.WithSyncIngestion(true))
	p := policy(t, "opaque")
	ctx := context.Background()

	require.NoError(t, e.IngestInteraction(ctx, p, "Tokyo 2025", "I don't eat meat", "Noted!"))

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 2)
}

func TestIngestInteraction_NoExtractorIsNoop(t *testing.T) {
	e, s := newTestEngine(t, memory.WithSyncIngestion(true))
	p := policy(t, "opaque")
	ctx := context.Background()

	require.NoError(t, e.IngestInteraction(ctx, p, "tokyo_2025", "hello", "hi"))

	facts, err := s.FetchByScope(ctx, p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Empty(t, facts)
}

func TestIngestInteraction_BackgroundCompletesBeforeDrain(t *testing.T) {
	x := &stubExtractor{candidates: []model.CandidateFact{{Content: "User is vegetarian"}}}
	e, s := newTestEngine(t, memory.WithExtractor(x))
	p := policy(t, "opaque")

	// Ingest against an already-canceled request context; extraction detaches
	// from it and must still finish.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.IngestInteraction(ctx, p, "tokyo_2025", "I don't eat meat", "Noted!"))

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	require.NoError(t, e.DrainIngestion(drainCtx))

	facts, err := s.FetchByScope(context.Background(), p.BankCollection(), "tokyo_2025", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
}
