// Package analysis runs the three independent pre-rewrite analyses of a
// message concurrently and merges them into one prompt fragment.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/chunker"
	"github.com/valpere/politone/internal/llm"
)

// Kind identifies one sub-analysis. The numeric order is the merge order.
type Kind int

const (
	KindSituation Kind = iota
	KindLocked
	KindDecompose
	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindSituation:
		return "situation"
	case KindLocked:
		return "locked"
	case KindDecompose:
		return "decompose"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) header() string {
	switch k {
	case KindSituation:
		return "[상황 분석]"
	case KindLocked:
		return "[고정 표현]"
	case KindDecompose:
		return "[원문 분해]"
	}
	return "[" + k.String() + "]"
}

// LockedExpression is an expression the model says must stay verbatim.
type LockedExpression struct {
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Fragment is one sub-analysis output, as streamed to clients.
type Fragment struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Input is what the stage analyzes.
type Input struct {
	Request internal.TransformRequest
	// Segments are the sentences of Request.OriginalText. When nil they are
	// computed with chunker.Sentences.
	Segments []string
}

// Result is the merged analysis.
type Result struct {
	// Context is the merged prompt fragment passed to generation.
	Context string
	// Fragments holds each sub-analysis in merge order.
	Fragments []Fragment
	// Locked lists expressions to protect during masking. Only expressions
	// literally present in the original text are kept.
	Locked []LockedExpression
}

// LockedTexts returns the text of each locked expression.
func (r *Result) LockedTexts() []string {
	out := make([]string, 0, len(r.Locked))
	for _, l := range r.Locked {
		out = append(out, l.Text)
	}
	return out
}

// Config tunes the stage.
type Config struct {
	Tier      llm.Tier
	MaxTokens int
	Policy    llm.Policy
	// Timeout bounds the whole stage, all three calls included.
	Timeout time.Duration
}

// Stage fans out the sub-analyses.
type Stage struct {
	capability llm.Capability
	cfg        Config
	logger     *zap.Logger
}

// New creates a Stage. A nil logger disables logging.
func New(capability llm.Capability, cfg Config, logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stage{capability: capability, cfg: cfg, logger: logger.Named("analysis")}
}

type output struct {
	text   string
	locked []LockedExpression
}

// Analyze runs the three sub-analyses concurrently. The stage fails as a unit:
// if any call fails after its retries, the others are cancelled and no
// partial result is returned. The merge order is fixed regardless of which
// call finishes first.
func (s *Stage) Analyze(ctx context.Context, in Input) (*Result, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	segments := in.Segments
	if segments == nil {
		segments = chunker.Sentences(in.Request.OriginalText)
	}

	prompts := [numKinds]string{
		KindSituation: buildSituationPrompt(in.Request),
		KindLocked:    buildLockedPrompt(in.Request),
		KindDecompose: buildDecomposePrompt(segments),
	}

	var outputs [numKinds]output
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for k := Kind(0); k < numKinds; k++ {
		g.Go(func() error {
			out, err := s.call(gctx, k, prompts[k])
			if err != nil {
				return fmt.Errorf("analysis %s: %w", k, err)
			}
			outputs[k] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn("analysis failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	res := merge(outputs, in.Request.OriginalText)
	s.logger.Debug("analysis completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("locked", len(res.Locked)),
	)
	return res, nil
}

func (s *Stage) call(ctx context.Context, k Kind, prompt string) (output, error) {
	return llm.Retry(ctx, s.cfg.Policy, func(ctx context.Context) (output, error) {
		c, err := s.capability.Generate(ctx, llm.Request{
			Tier:            s.cfg.Tier,
			System:          systemPrompt,
			Prompt:          prompt,
			MaxOutputTokens: s.cfg.MaxTokens,
		})
		if err != nil {
			return output{}, err
		}

		text := strings.TrimSpace(c.Text)
		if k == KindLocked {
			locked, err := ParseLocked(text)
			if err != nil {
				return output{}, err
			}
			return output{locked: locked}, nil
		}
		if text == "" {
			return output{}, fmt.Errorf("%w: empty %s analysis", llm.ErrMalformed, k)
		}
		return output{text: text}, nil
	})
}

// ParseLocked extracts the locked-expression list from a model reply. It
// accepts the object form {"locked":[...]}, a bare array, and either wrapped
// in prose or a code fence.
func ParseLocked(text string) ([]LockedExpression, error) {
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		var obj struct {
			Locked *[]LockedExpression `json:"locked"`
		}
		if err := json.Unmarshal([]byte(text[i:j+1]), &obj); err == nil && obj.Locked != nil {
			return *obj.Locked, nil
		}
	}
	if i, j := strings.Index(text, "["), strings.LastIndex(text, "]"); i >= 0 && j > i {
		var arr []LockedExpression
		if err := json.Unmarshal([]byte(text[i:j+1]), &arr); err == nil {
			return arr, nil
		}
	}
	return nil, fmt.Errorf("%w: locked expressions are not valid JSON", llm.ErrMalformed)
}

// merge builds the Result from outputs indexed by Kind.
func merge(outputs [numKinds]output, original string) *Result {
	res := &Result{}

	seen := make(map[string]bool)
	for _, l := range outputs[KindLocked].locked {
		l.Text = strings.TrimSpace(l.Text)
		if l.Text == "" || seen[l.Text] || !strings.Contains(original, l.Text) {
			continue
		}
		seen[l.Text] = true
		res.Locked = append(res.Locked, l)
	}

	var lockedText strings.Builder
	if len(res.Locked) == 0 {
		lockedText.WriteString("없음")
	}
	for i, l := range res.Locked {
		if i > 0 {
			lockedText.WriteByte('\n')
		}
		lockedText.WriteString("- " + l.Text)
		if l.Reason != "" {
			lockedText.WriteString(": " + strings.TrimSpace(l.Reason))
		}
	}

	texts := [numKinds]string{
		KindSituation: outputs[KindSituation].text,
		KindLocked:    lockedText.String(),
		KindDecompose: outputs[KindDecompose].text,
	}

	parts := make([]string, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		res.Fragments = append(res.Fragments, Fragment{Kind: k.String(), Text: texts[k]})
		parts = append(parts, k.header()+"\n"+texts[k])
	}
	res.Context = strings.Join(parts, "\n\n")
	return res
}
