package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/EZFRICA/context-engineering/internal/config"
	registryembed "github.com/EZFRICA/context-engineering/internal/registry/embed"
)

const defaultDimension = 768

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "gemini",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini embedder: CONTEXT_ENGINE_GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedder: create client: %w", err)
	}
	dim := cfg.GeminiEmbedDimensions
	if dim <= 0 {
		dim = defaultDimension
	}
	return &GeminiEmbedder{
		client: client,
		model:  cfg.GeminiEmbeddingModel,
		dim:    dim,
	}, nil
}

type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

func (e *GeminiEmbedder) ModelName() string {
	return e.model
}

func (e *GeminiEmbedder) Dimension() int {
	return e.dim
}

func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(int32(e.dim)),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed request failed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

var _ registryembed.Embedder = (*GeminiEmbedder)(nil)
