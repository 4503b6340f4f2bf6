package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mumose/contract-labeling-with-TOC/internal/config"
	"github.com/mumose/contract-labeling-with-TOC/internal/metrics"
	"github.com/mumose/contract-labeling-with-TOC/internal/pipeline"
)

// ResultReader looks up alignments that were pushed to the result store.
type ResultReader interface {
	GetResult(ctx context.Context, docID string) (json.RawMessage, bool, error)
}

// Server is the HTTP API server for tocalign.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	metrics      *metrics.Metrics
	results      ResultReader
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. results may be nil
// when no result store is configured.
func NewServer(orch *pipeline.Orchestrator, m *metrics.Metrics, results ResultReader, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		metrics:      m,
		results:      results,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/align", s.handleAlign)
		r.Post("/api/align/batch", s.handleBatchAlign)
		r.Get("/api/align/{jobID}/status", s.handleAlignStatus)
		r.Get("/api/align/{jobID}/result", s.handleAlignResult)
		r.Post("/api/outline", s.handleOutline)
		r.Get("/api/results/{docID}", s.handleStoredResult)
		r.Get("/api/stats/latency", s.handleLatencyStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
