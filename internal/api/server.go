package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/terrasignum-crawler/internal/catalog"
	"github.com/JakeFAU/terrasignum-crawler/internal/config"
	"github.com/JakeFAU/terrasignum-crawler/internal/crawl"
	"github.com/JakeFAU/terrasignum-crawler/internal/metrics"
	"github.com/JakeFAU/terrasignum-crawler/internal/ranker"
	"github.com/JakeFAU/terrasignum-crawler/internal/scheduler"
)

const (
	defaultEventLimit = 50
	requestTimeout    = 2 * time.Minute
)

// Service is the crawl engine surface the API exposes.
type Service interface {
	TriggerCrawl(ctx context.Context, projectID, sourceID string) ([]crawl.Outcome, error)
	GetRelevance(ctx context.Context, projectID string) ([]ranker.Score, error)
	GetRecentEvents(ctx context.Context, projectID string, limit int, statuses ...crawl.Status) ([]crawl.Event, error)
	SetSourceActive(ctx context.Context, projectID, sourceID string, active bool) error
	EffectiveConfigs(ctx context.Context, projectID string) ([]crawl.SourceConfig, error)
}

// ReadinessCheck reports whether downstream dependencies are reachable.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the crawl engine.
type Server struct {
	router    chi.Router
	service   Service
	catalog   *catalog.Catalog
	ready     ReadinessCheck
	maxEvents int
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. ready may be nil.
func NewServer(
	service Service,
	cat *catalog.Catalog,
	cfg config.Config,
	ready ReadinessCheck,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:   service,
		catalog:   cat,
		ready:     ready,
		maxEvents: cfg.Ledger.TailSize,
		logger:    logger.Named("api"),
	}
	if s.maxEvents <= 0 {
		s.maxEvents = defaultEventLimit
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Server.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Server.Auth.APIKey))
		}
		r.Get("/sources", s.listCatalog)
		r.Route("/projects/{project_id}", func(r chi.Router) {
			r.Post("/crawl", s.triggerCrawl)
			r.Get("/relevance", s.getRelevance)
			r.Get("/events", s.getEvents)
			r.Get("/sources", s.listProjectSources)
			r.Put("/sources/{source_id}", s.setSourceActive)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listCatalog(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"sources": s.catalog.Definitions()})
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	sourceID := strings.TrimSpace(r.URL.Query().Get("source"))
	outcomes, err := s.service.TriggerCrawl(r.Context(), projectID, sourceID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"outcomes":   outcomes,
	})
}

func (s *Server) getRelevance(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	scores, err := s.service.GetRelevance(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "scores": scores})
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	limit, err := s.parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	statuses, err := parseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.service.GetRecentEvents(r.Context(), projectID, limit, statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if events == nil {
		events = []crawl.Event{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "events": events})
}

func (s *Server) listProjectSources(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	cfgs, err := s.service.EffectiveConfigs(r.Context(), projectID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"project_id": projectID, "sources": cfgs})
}

type sourceActiveRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) setSourceActive(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "project_id")
	sourceID := chi.URLParam(r, "source_id")
	var req sourceActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		s.writeError(w, http.StatusBadRequest, "body must be {\"active\": true|false}")
		return
	}
	if err := s.service.SetSourceActive(r.Context(), projectID, sourceID, *req.Active); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"source_id":  sourceID,
		"active":     *req.Active,
	})
}

func (s *Server) parseLimit(raw string) (int, error) {
	if raw == "" {
		return min(defaultEventLimit, s.maxEvents), nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, s.maxEvents), nil
}

func parseStatuses(raw string) ([]crawl.Status, error) {
	if raw == "" {
		return nil, nil
	}
	var out []crawl.Status
	for _, part := range strings.Split(raw, ",") {
		st := crawl.Status(strings.TrimSpace(part))
		if !st.Valid() {
			return nil, fmt.Errorf("unknown status %q", st)
		}
		out = append(out, st)
	}
	return out, nil
}

// writeServiceError maps engine errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var runErr *scheduler.RunError
	switch {
	case errors.Is(err, scheduler.ErrProjectRequired):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrUnknownSource):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &runErr):
		status := http.StatusInternalServerError
		if runErr.Op == "lock" {
			status = http.StatusConflict
		}
		s.writeJSON(w, status, map[string]string{
			"error":      runErr.Err.Error(),
			"op":         runErr.Op,
			"project_id": runErr.ProjectID,
			"source_id":  runErr.SourceID,
		})
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
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

type requestIDKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
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

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", RequestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
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

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
