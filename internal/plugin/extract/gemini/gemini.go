package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/EZFRICA/context-engineering/internal/config"
	"github.com/EZFRICA/context-engineering/internal/model"
	registryextract "github.com/EZFRICA/context-engineering/internal/registry/extract"
)

const systemPrompt = `You are a Memory Consolidator.
Your job is to extract DURABLE FACTS from the conversation to store in a long-term memory.

Scope ID: %s

INSTRUCTIONS:
- Analyze the interaction (User message and AI response).
- Extract concrete facts about the user's PREFERENCES, DECISIONS, CONSTRAINTS, or PERSONAL DETAILS.
- Ignore polite phrasing, greetings, or questions asked by the agent.
- IF the user expresses a clear intent (e.g. "I want to surf"), capture it.
- IF the user sets a budget or date, capture it.

OUTPUT:
- Return a JSON object with a list of 'facts'.
- Each fact object must have 'content', 'tags' (list of strings), and 'payload' (JSON object as a string).

Example:
User: "Je veux faire du surf" -> {"content": "User wants to do surfing", "tags": ["activity", "preference"], "payload": "{}"}
User: "Budget 3000 euros" -> {"content": "Budget is 3000 EUR", "tags": ["budget", "constraint"], "payload": "{\"amount\": 3000, \"currency\": \"EUR\"}"}`

func init() {
	registryextract.Register(registryextract.Plugin{
		Name:   "gemini",
		Loader: load,
	})
}

func load(ctx context.Context) (registryextract.Extractor, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini extractor: CONTEXT_ENGINE_GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini extractor: create client: %w", err)
	}
	return &GeminiExtractor{client: client, model: cfg.GeminiModel}, nil
}

// GeminiExtractor distills candidate facts from a conversation turn with a
// fast Gemini model and a JSON response schema.
type GeminiExtractor struct {
	client *genai.Client
	model  string
}

func (x *GeminiExtractor) Name() string { return "gemini" }

func extractionSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"facts": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"content": {
							Type:        genai.TypeString,
							Description: "The atomic fact extracted, e.g. 'User likes aisle seats'",
						},
						"tags": {
							Type:        genai.TypeArray,
							Description: "Keywords for filtering, e.g. 'preference', 'logistics'",
							Items:       &genai.Schema{Type: genai.TypeString},
						},
						"payload": {
							Type:        genai.TypeString,
							Description: "Structured data as a JSON object string, e.g. '{\"amount\": 200, \"currency\": \"EUR\"}'",
						},
					},
					Required: []string{"content", "tags"},
				},
			},
		},
		Required: []string{"facts"},
	}
}

func (x *GeminiExtractor) Extract(ctx context.Context, scopeID, userMsg, assistantMsg string) ([]model.CandidateFact, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf("User: %s\nAI: %s", userMsg, assistantMsg), genai.RoleUser),
	}
	resp, err := x.client.Models.GenerateContent(ctx, x.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(fmt.Sprintf(systemPrompt, scopeID), genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    extractionSchema(),
		Temperature:       genai.Ptr(float32(1)),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini extract request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini extract: empty response")
	}
	rawJSON := resp.Candidates[0].Content.Parts[0].Text

	var result struct {
		Facts []struct {
			Content string   `json:"content"`
			Tags    []string `json:"tags"`
			Payload string   `json:"payload"`
		} `json:"facts"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &result); err != nil {
		return nil, fmt.Errorf("gemini extract: parse response: %w", err)
	}

	var out []model.CandidateFact
	for _, f := range result.Facts {
		if f.Content == "" {
			continue
		}
		cand := model.CandidateFact{Content: f.Content, Tags: f.Tags}
		if f.Payload != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(f.Payload), &payload); err == nil {
				cand.Payload = payload
			}
		}
		out = append(out, cand)
	}
	return out, nil
}

var _ registryextract.Extractor = (*GeminiExtractor)(nil)
