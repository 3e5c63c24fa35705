package memory

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// IngestInteraction extracts durable facts from one user/assistant exchange
// and records them under the scope. By default extraction runs in a
// background goroutine so the conversational hot path never waits on the
// model; failures are logged, not surfaced. With sync ingestion enabled the
// call runs inline and returns the extraction error.
func (e *Engine) IngestInteraction(ctx context.Context, p Policy, scopeID, userMsg, assistantMsg string) error {
	if e.extractor == nil {
		return nil
	}
	if e.syncIngestion {
		return e.consolidate(ctx, p, scopeID, userMsg, assistantMsg)
	}
	// Detach from the request context so an early client disconnect does not
	// cancel extraction mid-flight.
	bg := context.WithoutCancel(ctx)
	e.ingest.Add(1)
	go func() {
		defer e.ingest.Done()
		if err := e.consolidate(bg, p, scopeID, userMsg, assistantMsg); err != nil {
			log.Error("Background ingestion failed", "policy", p.Name, "scopeId", scopeID, "err", err)
		}
	}()
	return nil
}

func (e *Engine) consolidate(ctx context.Context, p Policy, scopeID, userMsg, assistantMsg string) error {
	candidates, err := e.extractor.Extract(ctx, scopeID, userMsg, assistantMsg)
	if err != nil {
		return fmt.Errorf("extracting facts: %w", err)
	}
	stored := 0
	for _, cand := range candidates {
		ok, err := e.RecordCandidate(ctx, p, scopeID, cand)
		if err != nil {
			return err
		}
		if ok {
			stored++
		}
	}
	if len(candidates) > 0 {
		log.Info("Consolidated interaction", "policy", p.Name, "scopeId", scopeID,
			"extracted", len(candidates), "stored", stored)
	}
	return nil
}

// DrainIngestion blocks until all in-flight background ingestions finish or
// the context expires. Called during server shutdown.
func (e *Engine) DrainIngestion(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.ingest.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ingestion drain interrupted: %w", ctx.Err())
	}
}
