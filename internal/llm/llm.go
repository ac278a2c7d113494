// Package llm abstracts the external text-generation capability the pipeline
// calls. A Capability turns a prompt into text; it carries no retry logic of
// its own. Retries and timeouts are applied by callers through Retry.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrMalformed marks a response that arrived but could not be used (empty
// text, unparseable JSON, wrong language). Callers retry it like a transport
// failure.
var ErrMalformed = errors.New("malformed response")

// ErrNoAPIKey is returned by providers that need a key when none is configured.
var ErrNoAPIKey = errors.New("api key required")

// Tier selects a model. Tier 0 is the cheapest; higher tiers are stronger.
type Tier int

// Request is one generation call.
type Request struct {
	Tier            Tier
	System          string
	Prompt          string
	MaxOutputTokens int
}

// Usage reports token consumption for one call when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Completion is a successful generation.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"`
}

// Capability generates text. Implementations must honour ctx cancellation.
type Capability interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req Request) (*Completion, error)

// Generate calls f.
func (f CapabilityFunc) Generate(ctx context.Context, req Request) (*Completion, error) {
	return f(ctx, req)
}

// TierConfig binds a tier to a model name and its output token ceiling.
type TierConfig struct {
	Model     string `mapstructure:"model" json:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
}

// Tiers is ordered from cheapest to strongest.
type Tiers []TierConfig

// Clamp returns t limited to the configured range.
func (ts Tiers) Clamp(t Tier) Tier {
	if t < 0 || len(ts) == 0 {
		return 0
	}
	if int(t) >= len(ts) {
		return Tier(len(ts) - 1)
	}
	return t
}

// Model returns the model name for t, clamped to the configured range.
func (ts Tiers) Model(t Tier) string {
	if len(ts) == 0 {
		return ""
	}
	return ts[ts.Clamp(t)].Model
}

// MaxTokens returns the output ceiling for t, clamped to the configured range.
func (ts Tiers) MaxTokens(t Tier) int {
	if len(ts) == 0 {
		return 0
	}
	return ts[ts.Clamp(t)].MaxTokens
}

// Escalate returns the next stronger tier, or the strongest if t already is.
func (ts Tiers) Escalate(t Tier) Tier {
	return ts.Clamp(t + 1)
}

// Validate checks that at least one tier exists and every tier names a model.
func (ts Tiers) Validate() error {
	if len(ts) == 0 {
		return errors.New("no model tiers configured")
	}
	for i, t := range ts {
		if t.Model == "" {
			return fmt.Errorf("tier %d: model is required", i)
		}
		if t.MaxTokens < 0 {
			return fmt.Errorf("tier %d: max_tokens must be non-negative", i)
		}
	}
	return nil
}
