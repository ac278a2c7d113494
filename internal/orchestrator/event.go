package orchestrator

import (
	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/llm"
	"github.com/valpere/politone/internal/validator"
)

// Phase is one state of the pipeline.
type Phase string

const (
	PhasePreprocess Phase = "PREPROCESS"
	PhaseAnalyze    Phase = "ANALYZE"
	PhaseMask       Phase = "MASK"
	PhaseGenerate   Phase = "GENERATE"
	PhaseUnmask     Phase = "UNMASK"
	PhaseValidate   Phase = "VALIDATE"
	PhaseDone       Phase = "DONE"
	PhaseFailed     Phase = "FAILED"
)

// Terminal reports whether no event follows p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Event is emitted when a phase completes. Fields not relevant to Phase are
// zero.
type Event struct {
	RunID   string
	Phase   Phase
	Attempt int
	Tier    llm.Tier
	// Model is the capability model that produced the candidate, set after
	// GENERATE and on DONE.
	Model string

	// Analysis is set after ANALYZE.
	Analysis *analysis.Result
	// Spans is the number of locked spans, set after MASK.
	Spans int
	// Text is the masked candidate after GENERATE and the unmasked one after
	// UNMASK.
	Text string
	// Issues is set after VALIDATE.
	Issues []validator.Issue
	// Result is set on DONE.
	Result *internal.TransformResult
	// Err is set on FAILED.
	Err error
}

// Observer receives events in order from the goroutine running the pipeline.
type Observer func(Event)
