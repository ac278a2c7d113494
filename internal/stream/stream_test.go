package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/validator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sseEvent struct {
	id    string
	event string
	frame Frame
}

func parse(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if cur.event != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &cur.frame))
		}
	}
	return out
}

func TestNew_SetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	_, err := New(rec, nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
}

type plainWriter struct{ http.ResponseWriter }

func TestNew_RequiresFlusher(t *testing.T) {
	_, err := New(plainWriter{httptest.NewRecorder()}, nil)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestObserve_WritesFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := New(rec, nil)
	require.NoError(t, err)

	ctx := "[상황 분석]\n- 일정 지연"
	result := &internal.TransformResult{TransformedText: "내일까지 마무리하겠습니다.", AnalysisContext: &ctx}
	for _, ev := range []orchestrator.Event{
		{RunID: "r1", Phase: orchestrator.PhasePreprocess},
		{RunID: "r1", Phase: orchestrator.PhaseAnalyze, Analysis: &analysis.Result{
			Context:   ctx,
			Fragments: []analysis.Fragment{{Kind: "situation", Text: "- 일정 지연"}},
			Locked:    []analysis.LockedExpression{{Text: "내일", Reason: "date"}},
		}},
		{RunID: "r1", Phase: orchestrator.PhaseMask, Spans: 1, Text: "{{LOCKED_0}}까지 할게요"},
		{RunID: "r1", Phase: orchestrator.PhaseValidate, Attempt: 1, Issues: []validator.Issue{
			{Type: validator.IssueEmoji, Severity: validator.SeverityError, MatchedText: "😀"},
		}},
		{RunID: "r1", Phase: orchestrator.PhaseDone, Attempt: 2, Tier: 1, Result: result},
		{RunID: "r1", Phase: orchestrator.PhaseFailed, Err: errors.New("late")},
	} {
		e.Observe(ev)
	}

	events := parse(t, rec.Body.String())
	require.Len(t, events, 5, "nothing is written after the terminal frame")
	assert.True(t, e.Closed())
	assert.NoError(t, e.Err())

	for i, ev := range events {
		assert.Equal(t, i+1, ev.frame.Seq)
		assert.Equal(t, "r1", ev.frame.RunID)
		assert.Equal(t, string(ev.frame.Phase), ev.event)
	}
	assert.Equal(t, "1", events[0].id)

	an := events[1].frame.Analysis
	require.NotNil(t, an)
	assert.Equal(t, ctx, an.Context)
	assert.Equal(t, []string{"내일"}, an.Locked)
	assert.Equal(t, []analysis.Fragment{{Kind: "situation", Text: "- 일정 지연"}}, an.Fragments)

	assert.Equal(t, 1, events[2].frame.Spans)
	assert.Equal(t, validator.IssueEmoji, events[3].frame.Issues[0].Type)

	done := events[4].frame
	assert.Equal(t, orchestrator.PhaseDone, done.Phase)
	assert.Equal(t, 2, done.Attempt)
	assert.Equal(t, 1, done.Tier)
	require.NotNil(t, done.Result)
	assert.Equal(t, "내일까지 마무리하겠습니다.", done.Result.TransformedText)
	assert.Nil(t, done.Error)
}

func TestObserve_SameKeysEveryPhase(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := New(rec, nil)
	require.NoError(t, err)

	e.Observe(orchestrator.Event{RunID: "r1", Phase: orchestrator.PhasePreprocess})
	e.Observe(orchestrator.Event{RunID: "r1", Phase: orchestrator.PhaseGenerate, Attempt: 1, Text: "초안"})
	e.Observe(orchestrator.Event{RunID: "r1", Phase: orchestrator.PhaseFailed, Err: errors.New("down")})

	want := []string{"analysis", "attempt", "error", "issues", "phase", "result", "runId", "seq", "spans", "text", "tier"}
	var frames int
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		frames++
		var raw map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &raw))
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		assert.ElementsMatch(t, want, keys, "frame %d", frames)
	}
	assert.Equal(t, 3, frames)
}

func TestObserve_FailedFrames(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		code  string
		field string
	}{
		{
			name:  "input",
			err:   &orchestrator.Error{Kind: orchestrator.KindInput, Phase: orchestrator.PhasePreprocess, Field: "persona", Err: errors.New(`unknown persona "KING"`)},
			code:  "INVALID_INPUT",
			field: "persona",
		},
		{
			name: "unavailable",
			err:  &orchestrator.Error{Kind: orchestrator.KindUnavailable, Phase: orchestrator.PhaseAnalyze, Err: errors.New("secret upstream detail")},
			code: "TRANSFORM_UNAVAILABLE",
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			code: "TRANSFORM_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e, err := New(rec, nil)
			require.NoError(t, err)

			e.Fail(tt.err)
			events := parse(t, rec.Body.String())
			require.Len(t, events, 1)

			f := events[0].frame
			assert.Equal(t, orchestrator.PhaseFailed, f.Phase)
			require.NotNil(t, f.Error)
			assert.Equal(t, tt.code, f.Error.Code)
			assert.Equal(t, tt.field, f.Error.Field)
			assert.NotContains(t, f.Error.Message, "secret")
		})
	}
}

func TestHeartbeat(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := New(rec, nil)
	require.NoError(t, err)

	stop := e.StartHeartbeat(2 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()
	stop()

	assert.Contains(t, rec.Body.String(), ": ping\n\n")
}

func TestHeartbeat_SilentAfterTerminal(t *testing.T) {
	rec := httptest.NewRecorder()
	e, err := New(rec, nil)
	require.NoError(t, err)

	e.Observe(orchestrator.Event{Phase: orchestrator.PhaseDone, Result: &internal.TransformResult{}})
	stop := e.StartHeartbeat(2 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	stop()

	assert.NotContains(t, rec.Body.String(), "ping")
}
