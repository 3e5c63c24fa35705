package none

import (
	"context"

	"github.com/EZFRICA/context-engineering/internal/model"
	registryextract "github.com/EZFRICA/context-engineering/internal/registry/extract"
)

func init() {
	registryextract.Register(registryextract.Plugin{
		Name: "none",
		Loader: func(_ context.Context) (registryextract.Extractor, error) {
			return &NoneExtractor{}, nil
		},
	})
}

// NoneExtractor never extracts anything. Interactions are accepted and
// dropped; manual fact entry still works.
type NoneExtractor struct{}

func (x *NoneExtractor) Name() string { return "none" }

func (x *NoneExtractor) Extract(context.Context, string, string, string) ([]model.CandidateFact, error) {
	return nil, nil
}

var _ registryextract.Extractor = (*NoneExtractor)(nil)
