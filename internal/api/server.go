package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crawlworks/email-harvester/internal/config"
	"github.com/crawlworks/email-harvester/internal/crawler"
	"github.com/crawlworks/email-harvester/internal/metrics"
	"github.com/crawlworks/email-harvester/internal/report"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

// Server wires HTTP handlers to the job and blob stores. The API mutates
// only the control field of a job; status and progress belong to the
// worker.
type Server struct {
	router     chi.Router
	jobStore   crawler.JobStore
	blobStore  crawler.BlobStore
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.APIConfig
	blobPrefix string
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. blobPrefix must
// match the prefix the worker writes artifacts under.
func NewServer(
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.APIConfig,
	blobPrefix string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		jobStore:   jobStore,
		blobStore:  blobStore,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		blobPrefix: blobPrefix,
		logger:     logger,
	}

	metrics.Init()
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Get("/", s.listJobs)
			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.getJob)
				r.Post("/control", s.setControl)
				r.Get("/result", s.getResult)
				r.Delete("/", s.deleteJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// ListPending doubles as a cheap liveness probe for the backing store.
	if _, err := s.jobStore.ListPending(r.Context()); err != nil {
		s.logger.Error("readiness check failed", zap.Error(err))
		writeError(s.logger, w, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type createJobRequest struct {
	Source string `json:"source"`
	Sheets []int  `json:"sheets"`
}

// createJob registers a new pending job. An empty sheets list selects every
// sheet in the source workbook.
func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		writeError(s.logger, w, http.StatusBadRequest, "source is required")
		return
	}
	for _, idx := range req.Sheets {
		if idx < 0 {
			writeError(s.logger, w, http.StatusBadRequest, "sheet indexes must be >= 0")
			return
		}
	}

	jobID, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to create job")
		return
	}
	job := crawler.Job{
		ID:        jobID,
		Source:    source,
		Sheets:    req.Sheets,
		Status:    crawler.JobStatusPending,
		Control:   crawler.ControlRun,
		CreatedAt: s.clock.Now(),
	}
	if err := s.jobStore.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to create job")
		return
	}
	writeJSON(s.logger, w, http.StatusCreated, map[string]any{"job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	var status *crawler.JobStatus
	if param := strings.TrimSpace(r.URL.Query().Get("status")); param != "" {
		st := crawler.JobStatus(strings.ToLower(param))
		if !st.Valid() {
			writeError(s.logger, w, http.StatusBadRequest, "invalid status filter")
			return
		}
		status = &st
	}

	jobs, err := s.jobStore.ListJobs(r.Context())
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{
		"jobs": filterJobs(jobs, status, limit, offset),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"job": job})
}

type controlRequest struct {
	Control string `json:"control"`
}

func (s *Server) setControl(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var req controlRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	control := crawler.JobControl(strings.ToLower(strings.TrimSpace(req.Control)))
	if !control.Valid() {
		writeError(s.logger, w, http.StatusBadRequest, "control must be one of run, pause, stop")
		return
	}
	if err := s.jobStore.SetControl(r.Context(), jobID, control); err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("set control failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to set control")
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]string{
		"job_id":  jobID,
		"control": string(control),
	})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobStore.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if errors.Is(err, crawler.ErrJobNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job.OutputURI == "" {
		writeError(s.logger, w, http.StatusConflict, "job has no output artifact yet")
		return
	}

	name := report.ArtifactName(job.Source, job.ID, job.Status == crawler.JobStatusStopped)
	data, err := s.blobStore.GetObject(r.Context(), s.blobPath(name))
	if err != nil {
		if errors.Is(err, crawler.ErrObjectNotFound) {
			writeError(s.logger, w, http.StatusNotFound, "output artifact not found")
			return
		}
		s.logger.Error("get output artifact failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to load output artifact")
		return
	}

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write artifact response failed", zap.Error(err))
	}
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	err := s.jobStore.DeleteJob(r.Context(), chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(s.logger, w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrJobActive):
		writeError(s.logger, w, http.StatusConflict, "job is still active")
	case err != nil:
		s.logger.Error("delete job failed", zap.Error(err))
		writeError(s.logger, w, http.StatusInternalServerError, "failed to delete job")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (s *Server) blobPath(name string) string {
	prefix := strings.Trim(s.blobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func filterJobs(jobs []crawler.Job, status *crawler.JobStatus, limit, offset int) []crawler.Job {
	filtered := jobs
	if status != nil {
		filtered = make([]crawler.Job, 0, len(jobs))
		for _, job := range jobs {
			if job.Status == *status {
				filtered = append(filtered, job)
			}
		}
	}
	if offset >= len(filtered) {
		return []crawler.Job{}
	}
	filtered = filtered[offset:]
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	if filtered == nil {
		filtered = []crawler.Job{}
	}
	return filtered
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
