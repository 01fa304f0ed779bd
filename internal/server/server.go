// Package server provides the HTTP inspection API for Taleweave.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/aggregate"
	"github.com/hyperjump/taleweave/internal/config"
	"github.com/hyperjump/taleweave/internal/extraction"
	"github.com/hyperjump/taleweave/internal/models"
	"github.com/hyperjump/taleweave/internal/storage"
)

// Ingester registers, ingests and deletes documents.
type Ingester interface {
	Register(ctx context.Context, input *models.DocumentInput) (*models.Document, error)
	Start(ctx context.Context, documentID string)
	Delete(ctx context.Context, documentID string) error
}

// Labeler schedules micro-fragment labeling.
type Labeler interface {
	Enqueue(ctx context.Context, documentID string) (*models.IngestionJob, error)
}

// Aggregator runs aggregation sweeps.
type Aggregator interface {
	Aggregate(ctx context.Context, documentID, ownerID string) (*aggregate.SweepResult, error)
}

// FocusResolver resolves focus windows.
type FocusResolver interface {
	ResolveFocusWindow(ctx context.Context, ownerID string, documentIDs []string, focusText string) (*models.FocusWindow, error)
}

// Analyzer answers entity attribute questions.
type Analyzer interface {
	Analyze(ctx context.Context, req extraction.AnalyzeRequest) (*models.AnalysisResult, error)
}

// BudgetAdmin toggles the global budget override.
type BudgetAdmin interface {
	IsGlobalLimitDisabled(ctx context.Context) bool
	SetGlobalLimitDisabled(ctx context.Context, disabled bool) error
}

// Services are the components behind the API.
type Services struct {
	Storage    storage.Storage
	Ingester   Ingester
	Labeler    Labeler
	Aggregator Aggregator
	Resolver   FocusResolver
	Analyzer   Analyzer
	Budget     BudgetAdmin
}

// Server is the HTTP server for the Taleweave API.
type Server struct {
	svc    Services
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server with the given services.
func NewServer(svc Services, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, config: cfg, logger: logger}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleRegisterDocument)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Post("/documents/{id}/labeling", s.handleEnqueueLabeling)
		r.Post("/documents/{id}/aggregate", s.handleAggregate)
		r.Get("/documents/{id}/focus", s.handleFocus)
		r.Post("/analyze", s.handleAnalyze)
		r.Put("/admin/budget-bypass", s.handleBudgetBypass)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Compress(5))
	r.Mount("/", s.Router())

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
