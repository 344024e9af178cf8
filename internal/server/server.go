// Package server provides the HTTP API for Osusume.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/osusume/internal/catalog"
	"github.com/hyperjump/osusume/internal/config"
	"github.com/hyperjump/osusume/internal/mutator"
	"github.com/hyperjump/osusume/internal/snapshot"
)

// Server is the HTTP server for the Osusume API.
type Server struct {
	mut     *mutator.Mutator
	storage catalog.Storage
	store   *snapshot.Store
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	watcher *snapshot.Watcher
}

// NewServer creates a server with the given dependencies.
func NewServer(
	mut *mutator.Mutator,
	storage catalog.Storage,
	store *snapshot.Store,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		mut:     mut,
		storage: storage,
		store:   store,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router for the API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/api/v1/books/{id}/similar", s.handleSimilar)
	r.Post("/api/v1/books/{id}/index", s.handleIndexBook)
	r.Post("/api/v1/books/{id}/refresh", s.handleRefreshBook)
	r.Delete("/api/v1/books/{id}/index", s.handleDeindexBook)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops. A model directory
// watcher runs alongside so externally rebuilt artifacts drop the cached
// vectorizer without a restart.
func (s *Server) Start() error {
	s.watcher = snapshot.NewWatcher(s.store, func(name string) {
		s.logger.Info("model artifact changed on disk", zap.String("artifact", name))
	}, snapshot.WithWatchLogger(s.logger))
	if err := s.watcher.Start(context.Background()); err != nil {
		s.logger.Warn("model directory watch unavailable", zap.Error(err))
		s.watcher = nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
