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

	"github.com/JakeFAU/careers-crawler/internal/config"
	"github.com/JakeFAU/careers-crawler/internal/crawler"
	"github.com/JakeFAU/careers-crawler/internal/metrics"
	"github.com/JakeFAU/careers-crawler/internal/scheduler"
)

const (
	defaultRequestTimeout = 60 * time.Second
	enqueueTimeout        = 5 * time.Second
)

// Submitter queues runs.
type Submitter interface {
	Submit(ctx context.Context, req crawler.RunRequest) (crawler.QueueItem, error)
}

// Maintenance runs a named periodic task on demand.
type Maintenance interface {
	Run(ctx context.Context, task string) (scheduler.Report, error)
}

// Options carries the optional parts of the server.
type Options struct {
	Auth           config.AuthConfig
	RequestTimeout time.Duration
	// Ready reports whether downstream dependencies are reachable.
	Ready func(ctx context.Context) error
	// Recent backs GET /v1/progress when set.
	Recent RecentFeed
}

// Server wires HTTP handlers to the dispatcher and repository.
type Server struct {
	router    chi.Router
	submitter Submitter
	tasks     Maintenance
	ready     func(ctx context.Context) error
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	repo crawler.Repository,
	submitter Submitter,
	tasks Maintenance,
	opts Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		submitter: submitter,
		tasks:     tasks,
		ready:     opts.Ready,
		logger:    logger,
	}
	companies := NewCompanyHandler(repo, logger)
	feed := NewProgressHandler(opts.Recent, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(apiKeyMiddleware(opts.Auth.APIKey))
		}
		r.Post("/runs", s.submitRun)
		r.Post("/maintenance/{task}", s.runMaintenance)
		r.Route("/companies/{company_id}", func(r chi.Router) {
			r.Get("/", companies.GetCompany)
			r.Get("/jobs", companies.ListJobs)
			r.Get("/rules", companies.ListRules)
			r.Get("/logs", companies.ListLogs)
		})
		r.Get("/progress", feed.Recent)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type runRequest struct {
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name"`
	Domain      string `json:"domain"`
	Mode        string `json:"mode"`
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	var body runRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := crawler.ParseMode(body.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := crawler.RunRequest{
		CompanyID:   body.CompanyID,
		CompanyName: body.CompanyName,
		Domain:      body.Domain,
		Mode:        mode,
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item, err := s.submitter.Submit(ctx, req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, crawler.ErrQueueClosed):
			status = http.StatusServiceUnavailable
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusRequestTimeout
		}
		s.logger.Error("submit run failed", zap.String("mode", string(mode)), zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"run_id": item.ID,
		"mode":   string(mode),
	})
}

func (s *Server) runMaintenance(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")
	rep, err := s.tasks.Run(r.Context(), task)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownTask) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("maintenance task failed", zap.String("task", task), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
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
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if expected == "" || key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
