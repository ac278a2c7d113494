package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the Google GenAI SDK.
type GeminiProvider struct {
	client *genai.Client
	tiers  Tiers
}

// NewGeminiProvider creates a provider. baseURL overrides the API endpoint
// and is normally empty.
func NewGeminiProvider(ctx context.Context, apiKey, baseURL string, tiers Tiers) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiProvider{client: client, tiers: tiers}, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	model := p.tiers.Model(req.Tier)
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = p.tiers.MaxTokens(req.Tier)
	}

	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.3),
	}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no candidates", ErrMalformed)
	}

	out := &Completion{Text: resp.Text(), Model: model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
		}
	}
	return out, nil
}
