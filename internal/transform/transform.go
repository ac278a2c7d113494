// Package transform is the entry point shared by the HTTP server and the
// CLI. It puts the result cache in front of the pipeline and records every
// served request in the history tables.
package transform

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/cache"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/store"
	"github.com/valpere/politone/internal/tone"
)

// Pipeline runs one transformation.
type Pipeline interface {
	RunObserved(ctx context.Context, req internal.TransformRequest, obs orchestrator.Observer) (*internal.TransformResult, error)
	RunPartial(ctx context.Context, preq internal.PartialRequest, obs orchestrator.Observer) (*internal.TransformResult, error)
}

// History records served requests.
type History interface {
	SaveRequest(ctx context.Context, rec internal.TransformRecord) error
	SaveResult(ctx context.Context, r store.ResultRecord) error
}

type Service struct {
	pipeline Pipeline
	cache    *cache.Cache
	history  History
	logger   *zap.Logger
}

// New creates a Service. c, h and logger may be nil; a nil cache disables
// caching and a nil history disables recording.
func New(p Pipeline, c *cache.Cache, h History, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pipeline: p, cache: c, history: h, logger: logger.Named("transform")}
}

// Transform rewrites a full message.
func (s *Service) Transform(ctx context.Context, req internal.TransformRequest) (*internal.TransformResult, error) {
	return s.TransformStream(ctx, req, nil)
}

// TransformStream is Transform with obs notified of every phase. A cached or
// shared result is reported as a single DONE event.
func (s *Service) TransformStream(ctx context.Context, req internal.TransformRequest, obs orchestrator.Observer) (*internal.TransformResult, error) {
	start := time.Now()
	tr := &tracker{next: obs}

	var (
		res *internal.TransformResult
		hit bool
		err error
	)
	if s.cache != nil {
		res, hit, err = s.cache.Do(ctx, req, func(ctx context.Context) (*internal.TransformResult, error) {
			return s.pipeline.RunObserved(ctx, req, tr.observe)
		})
	} else {
		res, err = s.pipeline.RunObserved(ctx, req, tr.observe)
	}

	if hit {
		tr.observe(orchestrator.Event{RunID: uuid.NewString(), Phase: orchestrator.PhaseDone, Result: res})
	}

	s.record(ctx, tr.detach(), req, "", false, res, hit, err, start)
	return res, err
}

// TransformPartial rewrites only the selected part of a message. Partial
// results are never cached.
func (s *Service) TransformPartial(ctx context.Context, preq internal.PartialRequest, obs orchestrator.Observer) (*internal.TransformResult, error) {
	start := time.Now()
	tr := &tracker{next: obs}
	res, err := s.pipeline.RunPartial(ctx, preq, tr.observe)
	s.record(ctx, tr.detach(), preq.TransformRequest, preq.SelectedText, true, res, false, err, start)
	return res, err
}

func (s *Service) record(ctx context.Context, run runInfo, req internal.TransformRequest, selection string, partial bool,
	res *internal.TransformResult, cached bool, runErr error, start time.Time) {
	latency := time.Since(start)
	id := run.runID
	if id == "" {
		id = uuid.NewString()
	}

	fields := []zap.Field{
		zap.String("run_id", id),
		zap.Bool("cached", cached),
		zap.Bool("partial", partial),
		zap.Duration("latency", latency),
	}
	if runErr != nil {
		s.logger.Debug("request failed", append(fields, zap.Error(runErr))...)
	} else {
		s.logger.Debug("request served", fields...)
	}

	if s.history == nil || orchestrator.IsInput(runErr) {
		return
	}
	// History survives the caller going away.
	ctx = context.WithoutCancel(ctx)

	source := req.OriginalText
	if partial {
		source = selection
	}
	rec := internal.TransformRecord{
		ID:          id,
		Fingerprint: cache.Fingerprint(req),
		Persona:     string(req.Persona),
		Contexts:    joinContexts(req.Contexts),
		ToneLevel:   string(req.ToneLevel),
		SourceText:  source,
		UserPrompt:  req.UserPrompt,
		Partial:     partial,
		Timestamp:   start,
	}
	if err := s.history.SaveRequest(ctx, rec); err != nil {
		s.logger.Warn("failed to save request", zap.String("run_id", id), zap.Error(err))
		return
	}

	out := store.ResultRecord{
		RequestID: id,
		Attempts:  run.attempt,
		Tier:      run.tier,
		Model:     run.model,
		Cached:    cached,
		LatencyMs: latency.Milliseconds(),
	}
	if res != nil {
		out.TransformedText = res.TransformedText
		out.RiskFlags = res.RiskFlags
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}
	if err := s.history.SaveResult(ctx, out); err != nil {
		s.logger.Warn("failed to save result", zap.String("run_id", id), zap.Error(err))
	}
}

func joinContexts(cs []tone.Context) string {
	names := make([]string, 0, len(cs))
	for _, c := range tone.NormalizeContexts(cs) {
		names = append(names, string(c))
	}
	return strings.Join(names, ",")
}

// tracker forwards events and remembers what history needs from them. When
// the caller gives up, the computation it started may keep running for
// other callers; detach stops forwarding its events to this caller.
type tracker struct {
	mu       sync.Mutex
	next     orchestrator.Observer
	detached bool
	info     runInfo
}

type runInfo struct {
	runID   string
	attempt int
	tier    int
	model   string
}

func (t *tracker) observe(ev orchestrator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.detached {
		return
	}
	if t.info.runID == "" {
		t.info.runID = ev.RunID
	}
	if ev.Phase == orchestrator.PhaseDone && ev.Attempt > 0 {
		t.info.attempt = ev.Attempt
		t.info.tier = int(ev.Tier)
		t.info.model = ev.Model
	}
	if t.next != nil {
		t.next(ev)
	}
}

// detach stops forwarding and returns a copy of the recorded fields.
func (t *tracker) detach() runInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detached = true
	return t.info
}
