package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by New.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderDeepSeek   = "deepseek"
	ProviderGemini     = "gemini"
	ProviderOllama     = "ollama"
)

// Providers lists the accepted provider names.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderOpenRouter, ProviderDeepSeek, ProviderGemini, ProviderOllama}
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Tiers    Tiers
}

// New builds the Capability named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Capability, error) {
	if err := cfg.Tiers.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cfg.Tiers)
	case ProviderOpenRouter:
		return NewOpenRouterProvider(cfg.APIKey, cfg.BaseURL, cfg.Tiers)
	case ProviderDeepSeek:
		base := cfg.BaseURL
		if base == "" {
			base = DeepSeekURL
		}
		return NewOpenAIProvider(cfg.APIKey, base, cfg.Tiers)
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg.APIKey, cfg.BaseURL, cfg.Tiers)
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Tiers), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (available: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}
}
