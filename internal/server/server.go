// Package server provides the HTTP API for dress-api.
package server

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nomdn/dress-api/internal/config"
	"github.com/nomdn/dress-api/internal/metrics"
	"github.com/nomdn/dress-api/internal/syncer"
	"go.uber.org/zap"
)

// IndexService is the index lifecycle the server reads from and triggers.
type IndexService interface {
	Current() *syncer.State
	RequestSync(rebuild bool, trigger string)
	Status(ctx context.Context) (*syncer.Status, error)
}

// DocumentReader returns the persisted index documents.
type DocumentReader interface {
	ReadDocument(name string) ([]byte, error)
}

// Server is the HTTP server for the dress API.
type Server struct {
	index  IndexService
	docs   DocumentReader
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
	intn   func(n int) int
}

// NewServer creates a server with the given dependencies.
func NewServer(
	index IndexService,
	docs DocumentReader,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		index:  index,
		docs:   docs,
		config: cfg,
		logger: logger,
		intn:   rand.Intn,
	}
}

// Router returns the HTTP handler with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/dress/v1", s.handleRandom)
	r.Get("/dress/v1/authors", s.handleAuthors)
	r.Get("/dress/v1/authors/{name}", s.handleRandomByAuthor)
	r.Get("/dress/v1/search", s.handleSearch)
	r.Post("/dresses/v1/sync", s.handleSync)
	r.Get("/index_0.json", s.handleDocument)
	r.Get("/index_1.json", s.handleDocument)
	r.Get("/health", s.handleHealth)
	r.Get("/api/v1/status", s.handleStatus)
	r.Handle("/metrics", metrics.Handler())
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
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
