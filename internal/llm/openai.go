package llm

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Base URLs for OpenAI-compatible chat completion APIs.
const (
	OpenRouterURL = "https://openrouter.ai/api/v1"
	DeepSeekURL   = "https://api.deepseek.com"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI itself, OpenRouter, DeepSeek) through the official SDK.
type OpenAIProvider struct {
	client openai.Client
	tiers  Tiers
}

// NewOpenAIProvider creates a provider. An empty baseURL targets OpenAI.
// Extra request options (headers, HTTP client) are appended last.
func NewOpenAIProvider(apiKey, baseURL string, tiers Tiers, extra ...option.RequestOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries belong to the pipeline stages.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	return &OpenAIProvider{client: openai.NewClient(opts...), tiers: tiers}, nil
}

// NewOpenRouterProvider is NewOpenAIProvider preset for OpenRouter, which
// asks clients to identify themselves with referer and title headers.
func NewOpenRouterProvider(apiKey, baseURL string, tiers Tiers) (*OpenAIProvider, error) {
	if baseURL == "" {
		baseURL = OpenRouterURL
	}
	return NewOpenAIProvider(apiKey, baseURL, tiers,
		option.WithHeader("HTTP-Referer", "https://politone.local"),
		option.WithHeader("X-Title", "Politone"),
	)
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	model := p.tiers.Model(req.Tier)
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = p.tiers.MaxTokens(req.Tier)
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    msgs,
		Temperature: openai.Float(0.3),
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", ErrMalformed)
	}

	if resp.Model != "" {
		model = resp.Model
	}
	return &Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}
