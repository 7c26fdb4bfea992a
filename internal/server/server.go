// Package server exposes chat and ingestion over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mfenderov/reg-rag/internal/cache"
	"github.com/mfenderov/reg-rag/internal/jobs"
	"github.com/mfenderov/reg-rag/internal/llm"
	"github.com/mfenderov/reg-rag/internal/rag"
	"github.com/mfenderov/reg-rag/pkg/models"
)

// Answerer answers a question with optional conversation history.
type Answerer interface {
	Answer(ctx context.Context, question string, history []models.HistoryTurn) (models.QueryResult, error)
	CacheStats() cache.Stats
}

// Jobs queues and tracks ingestion runs.
type Jobs interface {
	Submit(maxPages int) (jobs.Job, error)
	Get(id string) (jobs.Job, bool)
	List() []jobs.Job
}

// Store reports on the vector index.
type Store interface {
	Ping(ctx context.Context) bool
	Count(ctx context.Context) (int, error)
	Index() string
}

// Config holds HTTP server configuration.
type Config struct {
	Addr        string
	IngestToken string // Empty disables the check
	Name        string
	Version     string
}

// Server routes HTTP requests to the orchestrator and job runner.
type Server struct {
	answerer Answerer
	jobs     Jobs
	store    Store
	config   Config
	router   chi.Router
}

// New creates a Server.
func New(answerer Answerer, runner Jobs, store Store, config Config) *Server {
	s := &Server{
		answerer: answerer,
		jobs:     runner,
		store:    store,
		config:   config,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/chat", s.handleChat)
	r.Route("/ingest", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Post("/", s.handleIngest)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.config.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

type chatRequest struct {
	Message string               `json:"message"`
	History []models.HistoryTurn `json:"history"`
}

type ingestRequest struct {
	MaxPages int `json:"max_pages"`
}

type ingestResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    s.config.Name,
		"version": s.config.Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.store.Ping(r.Context()) {
		slog.Warn("health check failed: vector store unreachable")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.Count(r.Context())
	if err != nil {
		slog.Warn("failed to count indexed chunks", "error", err)
		total = -1
	}

	counts := make(map[jobs.Status]int)
	for _, job := range s.jobs.List() {
		counts[job.Status]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"index":        s.store.Index(),
		"total_chunks": total,
		"cache":        s.answerer.CacheStats(),
		"jobs":         counts,
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	result, err := s.answerer.Answer(r.Context(), req.Message, req.History)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, rag.ErrEmptyQuestion):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
	case errors.Is(err, llm.ErrNotConfigured):
		slog.Error("chat failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "answer generation is not configured"})
	default:
		slog.Error("chat failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to answer question"})
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}
	if req.MaxPages < 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "max_pages must not be negative"})
		return
	}

	job, err := s.jobs.Submit(req.MaxPages)
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrShuttingDown), errors.Is(err, jobs.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	default:
		slog.Error("failed to submit ingestion", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to start ingestion"})
		return
	}

	writeJSON(w, http.StatusAccepted, ingestResponse{
		Status:  "accepted",
		JobID:   job.ID,
		Message: "Ingestion started in the background",
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.List())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// requireToken accepts a bearer token or an X-Ingest-Token header.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.IngestToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Ingest-Token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.config.IngestToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid ingest token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}
