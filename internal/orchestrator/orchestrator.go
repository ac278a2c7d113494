// Package orchestrator sequences the rewrite pipeline: preprocess, analyze,
// mask, generate, unmask and validate, with a bounded validate→generate
// escalation loop.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/chunker"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/placeholder"
	"github.com/valpere/politone/internal/rewriter"
	"github.com/valpere/politone/internal/tone"
	"github.com/valpere/politone/internal/validator"
)

// Analyzer runs the analysis stage.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*analysis.Result, error)
}

// Generator runs one generation attempt.
type Generator interface {
	Rewrite(ctx context.Context, in rewriter.Input) (*rewriter.Output, error)
}

// Checker validates a candidate.
type Checker interface {
	Validate(in validator.Input) validator.Result
}

// TermSource supplies user-registered expressions that are always locked.
type TermSource interface {
	LockedTerms(ctx context.Context) ([]string, error)
}

// Config bounds a run.
type Config struct {
	MaxTextLength      int
	MaxPromptLength    int
	MaxSelectionLength int
	// ContextWindow is the number of runes kept on each side of a partial
	// selection.
	ContextWindow int
	// ValidationRetries is how many times a candidate with ERROR issues is
	// regenerated at a stronger tier.
	ValidationRetries int
	// FlagWarnings adds WARNING issues to the result's risk flags.
	FlagWarnings bool
	StartTier    llm.Tier
	Tiers        llm.Tiers
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTextLength:      1000,
		MaxPromptLength:    500,
		MaxSelectionLength: 300,
		ContextWindow:      chunker.DefaultWindowRunes,
		ValidationRetries:  1,
	}
}

// Pipeline runs transformations. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	analyzer  Analyzer
	generator Generator
	checker   Checker
	terms     TermSource
	cfg       Config
	logger    *zap.Logger
}

// New creates a Pipeline. A nil logger disables logging.
func New(analyzer Analyzer, generator Generator, checker Checker, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		analyzer:  analyzer,
		generator: generator,
		checker:   checker,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// WithTerms makes every run lock the terms ts returns.
func (p *Pipeline) WithTerms(ts TermSource) *Pipeline {
	p.terms = ts
	return p
}

// run carries the state of one invocation.
type run struct {
	id    string
	obs   Observer
	start time.Time
}

func (p *Pipeline) newRun(obs Observer) *run {
	return &run{id: uuid.NewString(), obs: obs, start: time.Now()}
}

func (r *run) emit(ev Event) {
	if r.obs == nil {
		return
	}
	ev.RunID = r.id
	r.obs(ev)
}

// Run transforms req and returns the result.
func (p *Pipeline) Run(ctx context.Context, req internal.TransformRequest) (*internal.TransformResult, error) {
	return p.RunObserved(ctx, req, nil)
}

// RunObserved is Run with obs notified after every phase.
func (p *Pipeline) RunObserved(ctx context.Context, req internal.TransformRequest, obs Observer) (*internal.TransformResult, error) {
	r := p.newRun(obs)

	req, perr := p.preprocess(req)
	if perr != nil {
		return nil, p.fail(r, perr)
	}
	r.emit(Event{Phase: PhasePreprocess})

	if err := checkpoint(ctx, PhaseAnalyze); err != nil {
		return nil, p.fail(r, err)
	}
	an, err := p.analyzer.Analyze(ctx, analysis.Input{
		Request:  req,
		Segments: chunker.Sentences(req.OriginalText),
	})
	if err != nil {
		return nil, p.fail(r, stageError(ctx, PhaseAnalyze, err))
	}
	r.emit(Event{Phase: PhaseAnalyze, Analysis: an})

	if err := checkpoint(ctx, PhaseMask); err != nil {
		return nil, p.fail(r, err)
	}
	literals := append(an.LockedTexts(), p.lockedTerms(ctx, req.OriginalText)...)
	spans := placeholder.Extract(req.OriginalText, literals)
	masked := placeholder.Mask(req.OriginalText, spans)
	r.emit(Event{Phase: PhaseMask, Spans: len(spans), Text: masked})

	out, gerr := p.generate(ctx, r, req, req.OriginalText, spans, rewriter.Input{
		Request:    req,
		MaskedText: masked,
		Analysis:   an.Context,
		SpanCount:  len(spans),
	})
	if gerr != nil {
		return nil, p.fail(r, gerr)
	}

	res := &internal.TransformResult{
		TransformedText: out.text,
		AnalysisContext: &an.Context,
		RiskFlags:       out.flags,
	}
	p.done(r, res, out)
	return res, nil
}

// RunPartial rewrites only the selected part of a message. Analysis is
// skipped; a bounded window of surrounding text keeps the register
// consistent. The result holds the rewritten selection only.
func (p *Pipeline) RunPartial(ctx context.Context, preq internal.PartialRequest, obs Observer) (*internal.TransformResult, error) {
	r := p.newRun(obs)

	preq, perr := p.preprocessPartial(preq)
	if perr != nil {
		return nil, p.fail(r, perr)
	}
	r.emit(Event{Phase: PhasePreprocess})

	if err := checkpoint(ctx, PhaseMask); err != nil {
		return nil, p.fail(r, err)
	}
	surroundings := preq.SurroundingContext
	if surroundings == "" {
		surroundings = preq.OriginalText
	}
	before, after := chunker.Window(surroundings, preq.SelectedText, p.cfg.ContextWindow)

	selection := preq.SelectedText
	spans := placeholder.Extract(selection, p.lockedTerms(ctx, selection))
	masked := placeholder.Mask(selection, spans)
	r.emit(Event{Phase: PhaseMask, Spans: len(spans), Text: masked})

	out, gerr := p.generate(ctx, r, preq.TransformRequest, selection, spans, rewriter.Input{
		Request:    preq.TransformRequest,
		MaskedText: masked,
		SpanCount:  len(spans),
		Partial:    true,
		Before:     before,
		After:      after,
	})
	if gerr != nil {
		return nil, p.fail(r, gerr)
	}

	res := &internal.TransformResult{TransformedText: out.text, RiskFlags: out.flags}
	p.done(r, res, out)
	return res, nil
}

type generated struct {
	text    string
	flags   []string
	attempt int
	tier    llm.Tier
	model   string
}

// generate runs GENERATE → UNMASK → VALIDATE, looping back to GENERATE at a
// stronger tier while ERROR issues remain and retries are left.
func (p *Pipeline) generate(ctx context.Context, r *run, req internal.TransformRequest, original string, spans []placeholder.LockedSpan, gin rewriter.Input) (*generated, *Error) {
	tier := p.cfg.Tiers.Clamp(p.cfg.StartTier)
	var avoid []validator.IssueType

	for attempt := 1; ; attempt++ {
		if err := checkpoint(ctx, PhaseGenerate); err != nil {
			return nil, err
		}
		gin.Tier = tier
		gin.Avoid = avoid
		out, err := p.generator.Rewrite(ctx, gin)
		if err != nil {
			return nil, stageError(ctx, PhaseGenerate, err)
		}
		r.emit(Event{Phase: PhaseGenerate, Attempt: attempt, Tier: tier, Model: out.Model, Text: out.Text})

		if err := checkpoint(ctx, PhaseUnmask); err != nil {
			return nil, err
		}
		final := placeholder.Unmask(out.Text, spans)
		r.emit(Event{Phase: PhaseUnmask, Attempt: attempt, Tier: tier, Text: final})

		if err := checkpoint(ctx, PhaseValidate); err != nil {
			return nil, err
		}
		vr := p.checker.Validate(validator.Input{
			Output:    final,
			Original:  original,
			Spans:     spans,
			PreUnmask: out.Text,
			Persona:   req.Persona,
		})
		r.emit(Event{Phase: PhaseValidate, Attempt: attempt, Tier: tier, Issues: vr.Issues})

		retriesUsed := attempt - 1
		if vr.Passed || retriesUsed >= p.cfg.ValidationRetries {
			if !vr.Passed {
				p.logger.Warn("validation errors unresolved, returning flagged result",
					zap.String("run_id", r.id),
					zap.Int("attempts", attempt),
					zap.Strings("issues", issueTypes(vr.Errors())),
				)
			}
			return &generated{
				text:    final,
				flags:   RiskFlags(vr, p.cfg.FlagWarnings),
				attempt: attempt,
				tier:    tier,
				model:   out.Model,
			}, nil
		}

		avoid = appendTypes(avoid, vr.ErrorTypes())
		next := p.cfg.Tiers.Escalate(tier)
		p.logger.Info("validation failed, escalating",
			zap.String("run_id", r.id),
			zap.Int("attempt", attempt),
			zap.Int("from_tier", int(tier)),
			zap.Int("to_tier", int(next)),
			zap.Strings("issues", issueTypes(vr.Errors())),
		)
		tier = next
	}
}

func (p *Pipeline) done(r *run, res *internal.TransformResult, out *generated) {
	r.emit(Event{Phase: PhaseDone, Attempt: out.attempt, Tier: out.tier, Model: out.model, Result: res})
	p.logger.Info("transform completed",
		zap.String("run_id", r.id),
		zap.Int("attempts", out.attempt),
		zap.Int("tier", int(out.tier)),
		zap.String("model", out.model),
		zap.Int("risk_flags", len(res.RiskFlags)),
		zap.Duration("elapsed", time.Since(r.start)),
	)
}

func (p *Pipeline) fail(r *run, err *Error) error {
	r.emit(Event{Phase: PhaseFailed, Err: err})
	fields := []zap.Field{
		zap.String("run_id", r.id),
		zap.String("phase", string(err.Phase)),
		zap.String("kind", err.Kind.String()),
		zap.Error(err.Err),
		zap.Duration("elapsed", time.Since(r.start)),
	}
	switch err.Kind {
	case KindUnavailable:
		p.logger.Error("transform failed", fields...)
	default:
		p.logger.Info("transform stopped", fields...)
	}
	return err
}

// lockedTerms returns the registered terms that occur in text. Lookup
// failures are logged and ignored.
func (p *Pipeline) lockedTerms(ctx context.Context, text string) []string {
	if p.terms == nil {
		return nil
	}
	terms, err := p.terms.LockedTerms(ctx)
	if err != nil {
		p.logger.Warn("failed to load locked terms", zap.Error(err))
		return nil
	}
	var out []string
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			out = append(out, t)
		}
	}
	return out
}

// checkpoint returns a classified error if ctx is done before phase starts.
func checkpoint(ctx context.Context, phase Phase) *Error {
	if err := ctx.Err(); err != nil {
		return stageError(ctx, phase, err)
	}
	return nil
}

// preprocess validates req and returns it with contexts normalised.
func (p *Pipeline) preprocess(req internal.TransformRequest) (internal.TransformRequest, *Error) {
	if err := p.validateCommon(&req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.OriginalText) == "" {
		return req, inputError("originalText", "must not be empty")
	}
	if n := utf8.RuneCountInString(req.OriginalText); p.cfg.MaxTextLength > 0 && n > p.cfg.MaxTextLength {
		return req, inputError("originalText", "must be at most %d characters, got %d", p.cfg.MaxTextLength, n)
	}
	return req, nil
}

func (p *Pipeline) preprocessPartial(preq internal.PartialRequest) (internal.PartialRequest, *Error) {
	if err := p.validateCommon(&preq.TransformRequest); err != nil {
		return preq, err
	}
	if strings.TrimSpace(preq.SelectedText) == "" {
		return preq, inputError("selectedText", "must not be empty")
	}
	if n := utf8.RuneCountInString(preq.SelectedText); p.cfg.MaxSelectionLength > 0 && n > p.cfg.MaxSelectionLength {
		return preq, inputError("selectedText", "must be at most %d characters, got %d", p.cfg.MaxSelectionLength, n)
	}
	if n := utf8.RuneCountInString(preq.OriginalText); p.cfg.MaxTextLength > 0 && n > p.cfg.MaxTextLength {
		return preq, inputError("originalText", "must be at most %d characters, got %d", p.cfg.MaxTextLength, n)
	}
	if n := utf8.RuneCountInString(preq.SurroundingContext); p.cfg.MaxTextLength > 0 && n > p.cfg.MaxTextLength {
		return preq, inputError("surroundingContext", "must be at most %d characters, got %d", p.cfg.MaxTextLength, n)
	}
	if preq.OriginalText != "" && !strings.Contains(preq.OriginalText, preq.SelectedText) {
		return preq, inputError("selectedText", "must occur in originalText")
	}
	return preq, nil
}

func (p *Pipeline) validateCommon(req *internal.TransformRequest) *Error {
	if !tone.ValidPersona(req.Persona) {
		return inputError("persona", "unknown persona %q", req.Persona)
	}
	if len(req.Contexts) == 0 {
		return inputError("contexts", "at least one context is required")
	}
	for _, c := range req.Contexts {
		if !tone.ValidContext(c) {
			return inputError("contexts", "unknown context %q", c)
		}
	}
	req.Contexts = tone.NormalizeContexts(req.Contexts)
	if !tone.ValidLevel(req.ToneLevel) {
		return inputError("toneLevel", "unknown tone level %q", req.ToneLevel)
	}
	if n := utf8.RuneCountInString(req.UserPrompt); p.cfg.MaxPromptLength > 0 && n > p.cfg.MaxPromptLength {
		return inputError("userPrompt", "must be at most %d characters, got %d", p.cfg.MaxPromptLength, n)
	}
	if n := utf8.RuneCountInString(req.SenderInfo); p.cfg.MaxPromptLength > 0 && n > p.cfg.MaxPromptLength {
		return inputError("senderInfo", "must be at most %d characters, got %d", p.cfg.MaxPromptLength, n)
	}
	return nil
}

// RiskFlags formats unresolved issues as "TYPE" or "TYPE:matched". ERROR
// issues come first; WARNING issues follow when withWarnings is set.
// Duplicates are dropped. It returns nil when there is nothing to flag.
func RiskFlags(res validator.Result, withWarnings bool) []string {
	issues := res.Errors()
	if withWarnings {
		issues = append(issues, res.Warnings()...)
	}

	var flags []string
	seen := make(map[string]bool)
	for _, is := range issues {
		flag := string(is.Type)
		if is.MatchedText != "" {
			flag = fmt.Sprintf("%s:%s", is.Type, is.MatchedText)
		}
		if !seen[flag] {
			seen[flag] = true
			flags = append(flags, flag)
		}
	}
	return flags
}

func appendTypes(dst, src []validator.IssueType) []validator.IssueType {
	for _, t := range src {
		found := false
		for _, d := range dst {
			if d == t {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, t)
		}
	}
	return dst
}

func issueTypes(issues []validator.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, string(is.Type))
	}
	return out
}
