// Package server exposes the transform service over HTTP: plain JSON
// endpoints plus a Server-Sent Events endpoint that reports each phase.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/valpere/politone/internal"
	"github.com/valpere/politone/internal/orchestrator"
	"github.com/valpere/politone/internal/stream"
)

// DefaultMaxBodyBytes bounds request bodies; the pipeline's own length
// limits are far smaller.
const DefaultMaxBodyBytes = 64 << 10

const healthTimeout = 3 * time.Second

// Transformer is the subset of transform.Service the handlers call.
type Transformer interface {
	Transform(ctx context.Context, req internal.TransformRequest) (*internal.TransformResult, error)
	TransformStream(ctx context.Context, req internal.TransformRequest, obs orchestrator.Observer) (*internal.TransformResult, error)
	TransformPartial(ctx context.Context, preq internal.PartialRequest, obs orchestrator.Observer) (*internal.TransformResult, error)
}

type Config struct {
	// RequestTimeout bounds one transformation, streaming included.
	RequestTimeout time.Duration
	Heartbeat      time.Duration
	MaxBodyBytes   int64
	// Health, when set, is consulted by /healthz. A non-nil error reports
	// the service as unavailable.
	Health func(ctx context.Context) error
}

type Server struct {
	svc    Transformer
	cfg    Config
	logger *zap.Logger
}

func New(svc Transformer, cfg Config, logger *zap.Logger) (*Server, error) {
	if svc == nil {
		return nil, errors.New("transform service required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = stream.DefaultHeartbeat
	}
	return &Server{svc: svc, cfg: cfg, logger: logger.Named("http")}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/transform", s.handleTransform)
	mux.HandleFunc("POST /api/v1/transform/partial", s.handlePartial)
	mux.HandleFunc("POST /api/v1/transform/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.logMiddleware(mux)
}

// --- Handlers ---

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req internal.TransformRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	res, err := s.svc.Transform(ctx, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePartial(w http.ResponseWriter, r *http.Request) {
	var preq internal.PartialRequest
	if !s.decode(w, r, &preq) {
		return
	}
	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	res, err := s.svc.TransformPartial(ctx, preq, nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStream answers with one SSE frame per phase. Malformed bodies are
// rejected with a plain JSON error before the stream starts; every later
// failure arrives as a FAILED frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req internal.TransformRequest
	if !s.decode(w, r, &req) {
		return
	}

	em, err := stream.New(w, s.logger)
	if err != nil {
		s.logger.Error("cannot stream", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, stream.ErrorFrame{
			Code:    orchestrator.KindUnavailable.Code(),
			Message: "streaming unsupported",
		})
		return
	}
	stop := em.StartHeartbeat(s.cfg.Heartbeat)
	defer stop()

	ctx, cancel := s.withTimeout(r.Context())
	defer cancel()

	if _, err := s.svc.TransformStream(ctx, req, em.Observe); err != nil && !em.Closed() {
		em.Fail(err)
	}
	if err := em.Err(); err != nil {
		s.logger.Debug("stream ended early", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.cfg.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		msg := "malformed request body"
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			msg = "request body too large"
		}
		writeJSON(w, http.StatusBadRequest, stream.ErrorFrame{Code: orchestrator.KindInput.Code(), Message: msg})
		return false
	}
	return true
}

// writeError maps a pipeline failure to a status code. Upstream details are
// logged, never returned.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	frame := stream.NewErrorFrame(err)
	status := http.StatusServiceUnavailable
	switch {
	case orchestrator.IsInput(err):
		status = http.StatusBadRequest
	case orchestrator.IsCancelled(err):
		s.logger.Debug("request cancelled", zap.Error(err))
	default:
		s.logger.Warn("transformation unavailable", zap.Error(err))
	}
	writeJSON(w, status, frame)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusWriter records the response code. It forwards Flush so streaming
// keeps working behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
