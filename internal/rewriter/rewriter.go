// Package rewriter performs the tone rewrite itself: one capability call per
// attempt, at the tier the orchestrator asks for.
package rewriter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/postprocess"
	"github.com/valpere/politone/internal/validator"
)

// LanguageGuard reports whether generated text is in the expected language.
type LanguageGuard interface {
	IsKorean(text string) bool
}

// Input describes one generation attempt.
type Input struct {
	Request internal.TransformRequest
	// MaskedText is the text to rewrite, with locked spans replaced by
	// placeholders. For partial rewrites it is the masked selection.
	MaskedText string
	// Analysis is the merged analysis context; empty for partial rewrites.
	Analysis  string
	SpanCount int
	Tier      llm.Tier
	// Avoid lists issue types a previous attempt failed on.
	Avoid []validator.IssueType

	// Partial marks a selection rewrite; Before and After are read-only
	// surroundings.
	Partial bool
	Before  string
	After   string
}

// Output is a cleaned generation.
type Output struct {
	Text  string
	Model string
	Tier  llm.Tier
	Usage llm.Usage
}

// Config tunes the rewriter.
type Config struct {
	Tiers  llm.Tiers
	Policy llm.Policy
}

// Rewriter turns masked text into a rewritten, still-masked candidate.
type Rewriter struct {
	capability llm.Capability
	guard      LanguageGuard
	cfg        Config
	logger     *zap.Logger
}

// New creates a Rewriter. guard may be nil to skip the language check.
func New(capability llm.Capability, guard LanguageGuard, cfg Config, logger *zap.Logger) *Rewriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{capability: capability, guard: guard, cfg: cfg, logger: logger.Named("rewriter")}
}

// Rewrite builds the prompt for in and calls the capability under the retry
// policy. Empty or non-Korean output counts as malformed and is retried.
func (r *Rewriter) Rewrite(ctx context.Context, in Input) (*Output, error) {
	tier := r.cfg.Tiers.Clamp(in.Tier)

	prompt := buildPrompt(in)
	if in.Partial {
		prompt = buildPartialPrompt(in)
	}

	start := time.Now()
	out, err := llm.Retry(ctx, r.cfg.Policy, func(ctx context.Context) (*Output, error) {
		c, err := r.capability.Generate(ctx, llm.Request{
			Tier:            tier,
			System:          systemPrompt,
			Prompt:          prompt,
			MaxOutputTokens: r.cfg.Tiers.MaxTokens(tier),
		})
		if err != nil {
			return nil, err
		}

		text := postprocess.Clean(c.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: empty rewrite", llm.ErrMalformed)
		}
		if r.guard != nil && !r.guard.IsKorean(text) {
			return nil, fmt.Errorf("%w: rewrite is not Korean", llm.ErrMalformed)
		}
		return &Output{Text: text, Model: c.Model, Tier: tier, Usage: c.Usage}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("rewrite at tier %d: %w", tier, err)
	}

	r.logger.Debug("rewrite generated",
		zap.Int("tier", int(tier)),
		zap.String("model", out.Model),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}
