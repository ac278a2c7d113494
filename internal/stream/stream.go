// Package stream reports pipeline progress to HTTP clients as Server-Sent
// Events.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/analysis"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/validator"
)

// ErrUnsupported is returned when the ResponseWriter cannot flush.
var ErrUnsupported = errors.New("streaming unsupported by response writer")

const DefaultHeartbeat = 15 * time.Second

// Frame is the JSON payload of one event. Field names are part of the wire
// contract. Every frame carries every key; fields a phase does not fill are
// zero or null.
type Frame struct {
	RunID    string                    `json:"runId"`
	Seq      int                       `json:"seq"`
	Phase    orchestrator.Phase        `json:"phase"`
	Attempt  int                       `json:"attempt"`
	Tier     int                       `json:"tier"`
	Analysis *AnalysisFrame            `json:"analysis"`
	Spans    int                       `json:"spans"`
	Text     string                    `json:"text"`
	Issues   []validator.Issue         `json:"issues"`
	Result   *internal.TransformResult `json:"result"`
	Error    *ErrorFrame               `json:"error"`
}

// AnalysisFrame reports the merged context and each sub-analysis it was
// built from.
type AnalysisFrame struct {
	Context   string              `json:"context"`
	Fragments []analysis.Fragment `json:"fragments"`
	Locked    []string            `json:"locked"`
}

type ErrorFrame struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewErrorFrame describes err for clients.
func NewErrorFrame(err error) *ErrorFrame {
	pe := orchestrator.AsError(err)
	if pe == nil {
		return nil
	}
	msg := "transformation unavailable, please retry later"
	switch pe.Kind {
	case orchestrator.KindInput:
		msg = pe.Err.Error()
	case orchestrator.KindCancelled:
		msg = "request cancelled"
	}
	return &ErrorFrame{Code: pe.Kind.Code(), Field: pe.Field, Message: msg}
}

// FrameOf converts a pipeline event into its wire form.
func FrameOf(ev orchestrator.Event, seq int) Frame {
	f := Frame{
		RunID:   ev.RunID,
		Seq:     seq,
		Phase:   ev.Phase,
		Attempt: ev.Attempt,
		Tier:    int(ev.Tier),
		Spans:   ev.Spans,
		Text:    ev.Text,
		Issues:  ev.Issues,
		Result:  ev.Result,
	}
	if ev.Analysis != nil {
		f.Analysis = &AnalysisFrame{
			Context:   ev.Analysis.Context,
			Fragments: ev.Analysis.Fragments,
			Locked:    ev.Analysis.LockedTexts(),
		}
	}
	if ev.Err != nil {
		f.Error = NewErrorFrame(ev.Err)
	}
	return f
}

// Emitter writes events to one SSE response. It is safe for concurrent use.
type Emitter struct {
	logger *zap.Logger

	mu     sync.Mutex
	w      http.ResponseWriter
	f      http.Flusher
	seq    int
	closed bool
	err    error
}

// New prepares w for streaming and sends the response headers.
func New(w http.ResponseWriter, logger *zap.Logger) (*Emitter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrUnsupported
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return &Emitter{logger: logger.Named("stream"), w: w, f: f}, nil
}

// Observe writes ev as one frame. Events after the terminal one, and all
// events after a write error, are dropped.
func (e *Emitter) Observe(ev orchestrator.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.err != nil {
		return
	}

	e.seq++
	data, err := json.Marshal(FrameOf(ev, e.seq))
	if err != nil {
		e.err = fmt.Errorf("encode frame: %w", err)
		e.logger.Error("failed to encode frame", zap.String("phase", string(ev.Phase)), zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(e.w, "id: %d\nevent: %s\ndata: %s\n\n", e.seq, ev.Phase, data); err != nil {
		e.err = err
		e.logger.Debug("client went away", zap.String("run_id", ev.RunID), zap.Error(err))
		return
	}
	e.f.Flush()
	if ev.Phase.Terminal() {
		e.closed = true
	}
}

// Fail emits a FAILED frame for an error raised before any pipeline event,
// unless a terminal frame was already written.
func (e *Emitter) Fail(err error) {
	e.Observe(orchestrator.Event{Phase: orchestrator.PhaseFailed, Err: err})
}

// Closed reports whether a terminal frame was written.
func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Err returns the first write or encoding error.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// StartHeartbeat writes a comment line every interval until the returned
// stop function is called. stop waits for the heartbeat goroutine to exit.
func (e *Emitter) StartHeartbeat(interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	quit := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				e.ping()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			<-done
		})
	}
}

func (e *Emitter) ping() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.err != nil {
		return
	}
	if _, err := fmt.Fprint(e.w, ": ping\n\n"); err != nil {
		e.err = err
		return
	}
	e.f.Flush()
}
