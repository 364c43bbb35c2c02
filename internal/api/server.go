// Package api exposes the HTTP interface for the analyzer service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/webman-dev/webman/internal/accessibility"
	"github.com/webman-dev/webman/internal/analyzer"
	"github.com/webman-dev/webman/internal/audit"
	"github.com/webman-dev/webman/internal/config"
	"github.com/webman-dev/webman/internal/dispatcher"
	"github.com/webman-dev/webman/internal/metrics"
	"github.com/webman-dev/webman/internal/responsive"
	"github.com/webman-dev/webman/internal/vitals"
)

// Analyzers bundles the synchronous analysis engines behind /v1/analyze.
type Analyzers struct {
	Accessibility *accessibility.Analyzer
	Audit         *audit.Auditor
	Vitals        *vitals.Analyzer
	Responsive    *responsive.Analyzer
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   analyzer.JobStore
	dispatcher *dispatcher.Dispatcher
	analyzers  Analyzers
	idGen      analyzer.IDGenerator
	clock      analyzer.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore analyzer.JobStore,
	dispatch *dispatcher.Dispatcher,
	analyzers Analyzers,
	idGen analyzer.IDGenerator,
	clock analyzer.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatch,
		analyzers:  analyzers,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyze", s.analyze)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	// In-memory dependencies are always ready; in future check downstreams.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type analyzeRequest struct {
	URL          string `json:"url"`
	AnalysisType string `json:"analysis_type"`
}

// analyze runs a single analysis inline and returns its payload.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	normalized, err := analyzer.ValidateURL(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := analyzer.JobKind(req.AnalysisType)
	if req.AnalysisType == "" {
		kind = analyzer.JobKindAccessibility
	}
	if !analyzer.ValidKind(kind) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown analysis type %q", req.AnalysisType))
		return
	}

	payload, err := s.runInline(r.Context(), kind, normalized)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) runInline(ctx context.Context, kind analyzer.JobKind, url string) (any, error) {
	switch kind {
	case analyzer.JobKindAccessibility:
		if s.analyzers.Accessibility == nil {
			return nil, errors.New("accessibility analysis is not configured")
		}
		return s.analyzers.Accessibility.Analyze(ctx, url), nil
	case analyzer.JobKindAudit:
		if s.analyzers.Audit == nil {
			return nil, errors.New("audit analysis is not configured")
		}
		return s.analyzers.Audit.Audit(ctx, url)
	case analyzer.JobKindVitals:
		if s.analyzers.Vitals == nil {
			return nil, errors.New("web vitals analysis requires headless rendering")
		}
		return s.analyzers.Vitals.Analyze(ctx, url)
	case analyzer.JobKindResponsiveness:
		if s.analyzers.Responsive == nil {
			return nil, errors.New("responsiveness analysis requires headless rendering")
		}
		return s.analyzers.Responsive.Analyze(ctx, url)
	default:
		return nil, fmt.Errorf("unknown analysis kind %q", kind)
	}
}

type jobRequest struct {
	URL          string `json:"url"`
	AnalysisType string `json:"analysis_type"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	normalized, err := analyzer.ValidateURL(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kind := analyzer.JobKind(req.AnalysisType)
	if !analyzer.ValidKind(kind) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown analysis type %q", req.AnalysisType))
		return
	}

	jobID, err := s.enqueueJob(r.Context(), kind, normalized)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) enqueueJob(ctx context.Context, kind analyzer.JobKind, url string) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := analyzer.Job{
		ID:        jobID,
		Kind:      kind,
		URL:       url,
		Status:    analyzer.JobStatusQueued,
		Submitted: now,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := analyzer.QueueItem{
		JobID:     jobID,
		Kind:      kind,
		URL:       url,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		// The row exists but no worker will ever see it; mark it failed so
		// clients polling the job don't wait on a permanent "queued".
		failCtx, cancelFail := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancelFail()
		if updErr := s.jobStore.UpdateJobStatus(
			failCtx, jobID, analyzer.JobStatusFailed, "enqueue failed",
		); updErr != nil {
			s.logger.Error("mark unqueued job failed",
				zap.String("job_id", jobID), zap.Error(updErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	metrics.ObserveJob(string(analyzer.JobStatusQueued))
	return jobID, nil
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !analyzer.IsTerminal(job.Status) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	record, err := s.jobStore.GetResult(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, analyzer.ErrResultNotFound) {
			s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch job result")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job, "result": record})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if analyzer.IsTerminal(job.Status) {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("job already %s", job.Status))
		return
	}
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		analyzer.JobStatusCanceled,
		"canceled via API",
	); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(analyzer.JobStatusCanceled),
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
