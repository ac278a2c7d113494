package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/rewriter"
	"github.com/valpere/politone/internal/tone"
	"github.com/valpere/politone/internal/validator"
)

type fakeAnalyzer struct {
	locked []string
	err    error
	calls  int
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, in analysis.Input) (*analysis.Result, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	res := &analysis.Result{Context: "[상황 분석]\n- 일정 지연"}
	for _, l := range a.locked {
		res.Locked = append(res.Locked, analysis.LockedExpression{Text: l})
	}
	return res, nil
}

// scriptedGenerator returns outputs in order, repeating the last one.
type scriptedGenerator struct {
	outputs []string
	err     error
	block   bool
	onCall  func()
	inputs  []rewriter.Input
}

func (g *scriptedGenerator) Rewrite(ctx context.Context, in rewriter.Input) (*rewriter.Output, error) {
	g.inputs = append(g.inputs, in)
	if g.onCall != nil {
		g.onCall()
	}
	if g.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	i := len(g.inputs) - 1
	if i >= len(g.outputs) {
		i = len(g.outputs) - 1
	}
	return &rewriter.Output{Text: g.outputs[i], Tier: in.Tier, Model: "fake"}, nil
}

type staticTerms []string

func (s staticTerms) LockedTerms(context.Context) ([]string, error) { return s, nil }

var testTiers = llm.Tiers{{Model: "cheap"}, {Model: "strong"}}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tiers = testTiers
	return cfg
}

func newPipeline(a Analyzer, g Generator, cfg Config) *Pipeline {
	return New(a, g, validator.New(validator.DefaultRules()), cfg, nil)
}

func bossRequest() internal.TransformRequest {
	return internal.TransformRequest{
		Persona:      tone.PersonaBoss,
		Contexts:     []tone.Context{tone.ContextScheduleDelay},
		ToneLevel:    tone.LevelPolite,
		OriginalText: "늦어서 죄송합니다. 내일까지 끝낼게요.",
	}
}

func collect(events *[]Event) Observer {
	return func(ev Event) { *events = append(*events, ev) }
}

func phases(events []Event) []Phase {
	out := make([]Phase, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Phase)
	}
	return out
}

func TestRun_EndToEnd(t *testing.T) {
	an := &fakeAnalyzer{locked: []string{"내일"}}
	gen := &scriptedGenerator{outputs: []string{"늦어서 정말 죄송합니다. {{LOCKED_0}}까지 꼭 마무리하겠습니다."}}

	var events []Event
	res, err := newPipeline(an, gen, testConfig()).RunObserved(context.Background(), bossRequest(), collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "늦어서 정말 죄송합니다. 내일까지 꼭 마무리하겠습니다.", res.TransformedText)
	assert.Nil(t, res.RiskFlags)
	require.NotNil(t, res.AnalysisContext)
	assert.Contains(t, *res.AnalysisContext, "[상황 분석]")

	require.Len(t, gen.inputs, 1)
	assert.Equal(t, "늦어서 죄송합니다. {{LOCKED_0}}까지 끝낼게요.", gen.inputs[0].MaskedText)
	assert.Equal(t, 1, gen.inputs[0].SpanCount)

	assert.Equal(t, []Phase{
		PhasePreprocess, PhaseAnalyze, PhaseMask, PhaseGenerate, PhaseUnmask, PhaseValidate, PhaseDone,
	}, phases(events))

	runID := events[0].RunID
	assert.NotEmpty(t, runID)
	for _, ev := range events {
		assert.Equal(t, runID, ev.RunID)
	}
	assert.Same(t, res, events[len(events)-1].Result)
}

func TestRun_EscalatesOnError(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{
		"{{LOCKED_0}}까지 하겠습니다 😀",
		"{{LOCKED_0}}까지 마무리하겠습니다.",
	}}
	var events []Event
	res, err := newPipeline(&fakeAnalyzer{locked: []string{"내일"}}, gen, testConfig()).
		RunObserved(context.Background(), bossRequest(), collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "내일까지 마무리하겠습니다.", res.TransformedText)
	assert.Nil(t, res.RiskFlags)

	require.Len(t, gen.inputs, 2)
	assert.Equal(t, llm.Tier(0), gen.inputs[0].Tier)
	assert.Empty(t, gen.inputs[0].Avoid)
	assert.Equal(t, llm.Tier(1), gen.inputs[1].Tier)
	assert.Equal(t, []validator.IssueType{validator.IssueEmoji}, gen.inputs[1].Avoid)

	assert.Equal(t, []Phase{
		PhasePreprocess, PhaseAnalyze, PhaseMask,
		PhaseGenerate, PhaseUnmask, PhaseValidate,
		PhaseGenerate, PhaseUnmask, PhaseValidate,
		PhaseDone,
	}, phases(events))
	last := events[len(events)-1]
	assert.Equal(t, 2, last.Attempt)
	assert.Equal(t, llm.Tier(1), last.Tier)
}

func TestRun_BudgetExhaustedReturnsFlaggedResult(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"늦어서 죄송해요 😀 곧 할게요"}}
	res, err := newPipeline(&fakeAnalyzer{locked: []string{"내일"}}, gen, testConfig()).Run(context.Background(), bossRequest())
	require.NoError(t, err, "validation failure must not become an error")

	assert.Len(t, gen.inputs, 2, "one retry by default")
	assert.Equal(t, "늦어서 죄송해요 😀 곧 할게요", res.TransformedText)
	assert.Equal(t, []string{"EMOJI:😀", "LOCKED_SPAN_MISSING:내일"}, res.RiskFlags)
}

func TestRun_RetriesConfigurable(t *testing.T) {
	for _, retries := range []int{0, 2} {
		gen := &scriptedGenerator{outputs: []string{"죄송해요 😀"}}
		cfg := testConfig()
		cfg.ValidationRetries = retries

		res, err := newPipeline(&fakeAnalyzer{}, gen, cfg).Run(context.Background(), bossRequest())
		require.NoError(t, err)
		assert.Len(t, gen.inputs, retries+1)
		assert.NotEmpty(t, res.RiskFlags)
	}
}

func TestRun_TierClampedAtStrongest(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"죄송해요 😀"}}
	cfg := testConfig()
	cfg.ValidationRetries = 3

	_, err := newPipeline(&fakeAnalyzer{}, gen, cfg).Run(context.Background(), bossRequest())
	require.NoError(t, err)
	require.Len(t, gen.inputs, 4)
	assert.Equal(t, llm.Tier(1), gen.inputs[3].Tier)
}

func TestRun_WarningsFlaggedWhenConfigured(t *testing.T) {
	out := "늦어서 죄송합니다. {{LOCKED_0}}까지 확인해 드리겠습니다."
	for _, flag := range []bool{false, true} {
		cfg := testConfig()
		cfg.FlagWarnings = flag
		gen := &scriptedGenerator{outputs: []string{out}}

		res, err := newPipeline(&fakeAnalyzer{locked: []string{"내일"}}, gen, cfg).Run(context.Background(), bossRequest())
		require.NoError(t, err)
		assert.Len(t, gen.inputs, 1, "warnings never trigger a retry")
		if flag {
			assert.Equal(t, []string{"PERSPECTIVE_ERROR:확인해 드리겠습니다"}, res.RiskFlags)
		} else {
			assert.Nil(t, res.RiskFlags)
		}
	}
}

func TestRun_InputErrors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*internal.TransformRequest)
		field string
	}{
		{"empty text", func(r *internal.TransformRequest) { r.OriginalText = "  " }, "originalText"},
		{"too long", func(r *internal.TransformRequest) { r.OriginalText = strings.Repeat("가", 1001) }, "originalText"},
		{"bad persona", func(r *internal.TransformRequest) { r.Persona = "KING" }, "persona"},
		{"no contexts", func(r *internal.TransformRequest) { r.Contexts = nil }, "contexts"},
		{"bad context", func(r *internal.TransformRequest) { r.Contexts = []tone.Context{"PARTY"} }, "contexts"},
		{"bad tone", func(r *internal.TransformRequest) { r.ToneLevel = "" }, "toneLevel"},
		{"long prompt", func(r *internal.TransformRequest) { r.UserPrompt = strings.Repeat("a", 501) }, "userPrompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			an := &fakeAnalyzer{}
			gen := &scriptedGenerator{outputs: []string{"x"}}
			req := bossRequest()
			tt.edit(&req)

			var events []Event
			_, err := newPipeline(an, gen, testConfig()).RunObserved(context.Background(), req, collect(&events))
			require.Error(t, err)
			assert.True(t, IsInput(err))

			var pe *Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.field, pe.Field)
			assert.Equal(t, PhasePreprocess, pe.Phase)
			assert.Zero(t, an.calls, "no external call before validation")
			assert.Empty(t, gen.inputs)
			assert.Equal(t, []Phase{PhaseFailed}, phases(events))
		})
	}
}

func TestRun_ContextsNormalised(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"늦어서 죄송합니다."}}
	req := bossRequest()
	req.Contexts = []tone.Context{tone.ContextApology, tone.ContextScheduleDelay, tone.ContextApology}

	_, err := newPipeline(&fakeAnalyzer{}, gen, testConfig()).Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, tone.NormalizeContexts(req.Contexts), gen.inputs[0].Request.Contexts)
	assert.Len(t, gen.inputs[0].Request.Contexts, 2)
}

func TestRun_AnalyzerFailure(t *testing.T) {
	boom := errors.New("capability down")
	gen := &scriptedGenerator{outputs: []string{"x"}}
	var events []Event
	_, err := newPipeline(&fakeAnalyzer{err: boom}, gen, testConfig()).
		RunObserved(context.Background(), bossRequest(), collect(&events))

	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, gen.inputs)

	last := events[len(events)-1]
	assert.Equal(t, PhaseFailed, last.Phase)
	assert.ErrorIs(t, last.Err, boom)
}

func TestRun_GeneratorFailure(t *testing.T) {
	gen := &scriptedGenerator{err: llm.ErrMalformed}
	_, err := newPipeline(&fakeAnalyzer{}, gen, testConfig()).Run(context.Background(), bossRequest())
	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, llm.ErrMalformed)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseGenerate, pe.Phase)
}

func TestRun_CancelledBeforeAnalysis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	an := &fakeAnalyzer{}
	_, err := newPipeline(an, &scriptedGenerator{outputs: []string{"x"}}, testConfig()).Run(ctx, bossRequest())
	assert.True(t, IsCancelled(err))
	assert.Zero(t, an.calls)
}

func TestRun_CancelledBetweenPhases(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &scriptedGenerator{outputs: []string{"x"}}

	var events []Event
	obs := func(ev Event) {
		events = append(events, ev)
		if ev.Phase == PhaseMask {
			cancel()
		}
	}
	res, err := newPipeline(&fakeAnalyzer{}, gen, testConfig()).RunObserved(ctx, bossRequest(), obs)
	assert.Nil(t, res)
	assert.True(t, IsCancelled(err))
	assert.Empty(t, gen.inputs)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, PhaseGenerate, pe.Phase)
	assert.Equal(t, PhaseFailed, events[len(events)-1].Phase)
}

func TestRun_CancelledDuringGeneration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &scriptedGenerator{block: true, onCall: cancel}

	res, err := newPipeline(&fakeAnalyzer{}, gen, testConfig()).Run(ctx, bossRequest())
	assert.Nil(t, res)
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, gen.inputs, 1)
}

func TestRun_LockedTermsMasked(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"{{LOCKED_0}} 일정이 늦어져 죄송합니다."}}
	req := bossRequest()
	req.OriginalText = "프로젝트 알파 늦어서 미안해요"

	p := newPipeline(&fakeAnalyzer{}, gen, testConfig()).WithTerms(staticTerms{"프로젝트 알파", "없는 용어"})
	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "{{LOCKED_0}} 늦어서 미안해요", gen.inputs[0].MaskedText)
	assert.Equal(t, "프로젝트 알파 일정이 늦어져 죄송합니다.", res.TransformedText)
}

func TestRunPartial(t *testing.T) {
	an := &fakeAnalyzer{}
	gen := &scriptedGenerator{outputs: []string{"확인 부탁드립니다."}}
	preq := internal.PartialRequest{
		TransformRequest: bossRequest(),
		SelectedText:     "내일까지 끝낼게요.",
	}

	var events []Event
	res, err := newPipeline(an, gen, testConfig()).RunPartial(context.Background(), preq, collect(&events))
	require.NoError(t, err)

	assert.Equal(t, "확인 부탁드립니다.", res.TransformedText)
	assert.Nil(t, res.AnalysisContext)
	assert.Zero(t, an.calls, "partial rewrites skip analysis")

	require.Len(t, gen.inputs, 1)
	in := gen.inputs[0]
	assert.True(t, in.Partial)
	assert.Equal(t, "늦어서 죄송합니다.", in.Before)
	assert.Equal(t, "", in.After)
	assert.Equal(t, "내일까지 끝낼게요.", in.MaskedText)

	assert.Equal(t, []Phase{
		PhasePreprocess, PhaseMask, PhaseGenerate, PhaseUnmask, PhaseValidate, PhaseDone,
	}, phases(events))
}

func TestRunPartial_SurroundingContextPreferred(t *testing.T) {
	gen := &scriptedGenerator{outputs: []string{"확인 부탁드립니다."}}
	preq := internal.PartialRequest{
		TransformRequest:   bossRequest(),
		SelectedText:       "확인해줘",
		SurroundingContext: "자료 보냈어요. 확인해줘 고마워요.",
	}
	preq.OriginalText = ""

	_, err := newPipeline(&fakeAnalyzer{}, gen, testConfig()).RunPartial(context.Background(), preq, nil)
	require.NoError(t, err)
	assert.Equal(t, "자료 보냈어요.", gen.inputs[0].Before)
	assert.Equal(t, "고마워요.", gen.inputs[0].After)
}

func TestRunPartial_InputErrors(t *testing.T) {
	p := newPipeline(&fakeAnalyzer{}, &scriptedGenerator{outputs: []string{"x"}}, testConfig())

	preq := internal.PartialRequest{TransformRequest: bossRequest()}
	_, err := p.RunPartial(context.Background(), preq, nil)
	assert.True(t, IsInput(err))

	preq.SelectedText = "없는 문장"
	_, err = p.RunPartial(context.Background(), preq, nil)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "selectedText", pe.Field)

	preq.SelectedText = strings.Repeat("가", 301)
	_, err = p.RunPartial(context.Background(), preq, nil)
	assert.True(t, IsInput(err))
}

func TestRiskFlags(t *testing.T) {
	res := validator.Result{Issues: []validator.Issue{
		{Type: validator.IssueEndingRepetition, Severity: validator.SeverityWarning, MatchedText: "습니다"},
		{Type: validator.IssueEmoji, Severity: validator.SeverityError, MatchedText: "😀"},
		{Type: validator.IssueLengthOverexpansion, Severity: validator.SeverityWarning},
		{Type: validator.IssueEmoji, Severity: validator.SeverityError, MatchedText: "😀"},
	}}

	assert.Equal(t, []string{"EMOJI:😀"}, RiskFlags(res, false))
	assert.Equal(t, []string{"EMOJI:😀", "ENDING_REPETITION:습니다", "LENGTH_OVEREXPANSION"}, RiskFlags(res, true))
	assert.Nil(t, RiskFlags(validator.Result{Passed: true}, true))
}

func TestError_Format(t *testing.T) {
	err := inputError("originalText", "must not be empty")
	assert.Equal(t, "PREPROCESS: originalText: must not be empty", err.Error())
	assert.False(t, IsInput(errors.New("plain")))
}
