package rewriter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/tone"
	"github.com/valpere/politone/internal/validator"
)

var tiers = llm.Tiers{
	{Model: "cheap", MaxTokens: 300},
	{Model: "strong", MaxTokens: 900},
}

type recordingCapability struct {
	replies []string
	errs    []error
	reqs    []llm.Request
}

func (c *recordingCapability) Generate(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	i := len(c.reqs)
	c.reqs = append(c.reqs, req)
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	reply := c.replies[len(c.replies)-1]
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return &llm.Completion{Text: reply, Model: tiers.Model(req.Tier)}, nil
}

type stubGuard bool

func (g stubGuard) IsKorean(string) bool { return bool(g) }

func baseInput() Input {
	return Input{
		Request: internal.TransformRequest{
			Persona:      tone.PersonaBoss,
			Contexts:     []tone.Context{tone.ContextScheduleDelay, tone.ContextApology},
			ToneLevel:    tone.LevelPolite,
			OriginalText: "늦어서 미안해요. {{LOCKED_0}}까지 할게요.",
			UserPrompt:   "짧게",
			SenderInfo:   "마케팅팀 이민지",
		},
		MaskedText: "늦어서 미안해요. {{LOCKED_0}}까지 할게요.",
		Analysis:   "[상황 분석]\n- 일정 지연",
		SpanCount:  1,
	}
}

func TestRewrite_BuildsPromptAndCleans(t *testing.T) {
	c := &recordingCapability{replies: []string{"변환 결과: \"늦어서 죄송합니다. {{LOCKED_0}}까지 마무리하겠습니다.\""}}
	r := New(c, stubGuard(true), Config{Tiers: tiers}, nil)

	out, err := r.Rewrite(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, "늦어서 죄송합니다. {{LOCKED_0}}까지 마무리하겠습니다.", out.Text)
	assert.Equal(t, "cheap", out.Model)
	assert.Equal(t, llm.Tier(0), out.Tier)

	require.Len(t, c.reqs, 1)
	req := c.reqs[0]
	assert.Equal(t, 300, req.MaxOutputTokens)
	assert.NotEmpty(t, req.System)
	for _, want := range []string{
		tone.PersonaLabel(tone.PersonaBoss),
		tone.ContextLabels([]tone.Context{tone.ContextScheduleDelay, tone.ContextApology}),
		tone.LevelLabel(tone.LevelPolite),
		"짧게",
		"마케팅팀 이민지",
		"[상황 분석]",
		"{{LOCKED_0}}까지 할게요",
		"결과 문장만 출력하세요",
	} {
		assert.Contains(t, req.Prompt, want)
	}
}

func TestRewrite_TierAndAvoidList(t *testing.T) {
	c := &recordingCapability{replies: []string{"늦어서 죄송합니다."}}
	r := New(c, nil, Config{Tiers: tiers}, nil)

	in := baseInput()
	in.Tier = 5
	in.Avoid = []validator.IssueType{validator.IssueEmoji, validator.IssueEmoji, validator.IssueLockedSpanMissing}

	out, err := r.Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, llm.Tier(1), out.Tier, "tier is clamped to the strongest")
	assert.Equal(t, 900, c.reqs[0].MaxOutputTokens)

	prompt := c.reqs[0].Prompt
	assert.Equal(t, 1, strings.Count(prompt, AvoidRule(validator.IssueEmoji)), "avoid rules are deduplicated")
	assert.Contains(t, prompt, AvoidRule(validator.IssueLockedSpanMissing))
}

func TestRewrite_NoPlaceholderHintWithoutSpans(t *testing.T) {
	c := &recordingCapability{replies: []string{"늦어서 죄송합니다."}}
	in := baseInput()
	in.SpanCount = 0

	_, err := New(c, nil, Config{Tiers: tiers}, nil).Rewrite(context.Background(), in)
	require.NoError(t, err)
	assert.NotContains(t, c.reqs[0].Prompt, "고정된 사실 정보")
}

func TestRewrite_EmptyOutputRetried(t *testing.T) {
	c := &recordingCapability{replies: []string{"<think>음</think>", "늦어서 죄송합니다."}}
	r := New(c, nil, Config{Tiers: tiers, Policy: llm.Policy{Attempts: 2}}, nil)

	out, err := r.Rewrite(context.Background(), baseInput())
	require.NoError(t, err)
	assert.Equal(t, "늦어서 죄송합니다.", out.Text)
	assert.Len(t, c.reqs, 2)
}

func TestRewrite_NonKoreanIsMalformed(t *testing.T) {
	c := &recordingCapability{replies: []string{"Sorry for the delay."}}
	r := New(c, stubGuard(false), Config{Tiers: tiers, Policy: llm.Policy{Attempts: 2}}, nil)

	_, err := r.Rewrite(context.Background(), baseInput())
	assert.ErrorIs(t, err, llm.ErrMalformed)
	assert.Len(t, c.reqs, 2)
}

func TestRewrite_CapabilityError(t *testing.T) {
	boom := errors.New("quota exceeded")
	c := &recordingCapability{replies: []string{""}, errs: []error{boom}}
	_, err := New(c, nil, Config{Tiers: tiers}, nil).Rewrite(context.Background(), baseInput())
	assert.ErrorIs(t, err, boom)
}

func TestRewrite_PartialPrompt(t *testing.T) {
	c := &recordingCapability{replies: []string{"확인 부탁드립니다."}}
	in := baseInput()
	in.Partial = true
	in.Analysis = ""
	in.MaskedText = "확인해줘"
	in.Before = "자료 보냈어요."
	in.After = "감사해요."

	_, err := New(c, nil, Config{Tiers: tiers}, nil).Rewrite(context.Background(), in)
	require.NoError(t, err)

	prompt := c.reqs[0].Prompt
	assert.Contains(t, prompt, "앞: 자료 보냈어요.")
	assert.Contains(t, prompt, "뒤: 감사해요.")
	assert.Contains(t, prompt, "# 고칠 부분\n확인해줘")
	assert.NotContains(t, prompt, "# 분석")
}

func TestAvoidRule_CoversEveryIssueType(t *testing.T) {
	for _, typ := range []validator.IssueType{
		validator.IssueEmoji,
		validator.IssueForbiddenPhrase,
		validator.IssueHallucinatedFact,
		validator.IssueEndingRepetition,
		validator.IssueLengthOverexpansion,
		validator.IssuePerspectiveError,
		validator.IssueLockedSpanMissing,
	} {
		assert.NotEmpty(t, AvoidRule(typ), typ)
	}
}
