// Package server provides the HTTP API for Bunko.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/bunko/internal/config"
	"github.com/hyperjump/bunko/internal/index"
	"github.com/hyperjump/bunko/internal/ingest"
	"github.com/hyperjump/bunko/internal/search"
	"github.com/hyperjump/bunko/internal/storage"
	"github.com/hyperjump/bunko/internal/watcher"
)

// Server is the HTTP server for the Bunko API. Mutating routes (upload, text,
// append, delete, reindex, watch administration) are gated by the admin token;
// read routes are open.
type Server struct {
	router  *search.Router
	ingest  *ingest.Service
	storage storage.Storage
	manager *index.Manager
	watch   *watcher.Watcher // nil when watching is disabled
	cfg     *config.Config
	logger  *zap.Logger
	server  *http.Server

	configPath string // persists watch directory add/remove; "" disables
	configMu   sync.Mutex
}

// NewServer creates a server with the given dependencies. watch may be nil.
func NewServer(
	router *search.Router,
	ing *ingest.Service,
	store storage.Storage,
	manager *index.Manager,
	watch *watcher.Watcher,
	cfg *config.Config,
	configPath string,
	logger *zap.Logger,
) *Server {
	return &Server{
		router:     router,
		ingest:     ing,
		storage:    store,
		manager:    manager,
		watch:      watch,
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Handler builds the chi router. Exposed separately from Start so tests can
// drive it with httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/docs", s.handleListDocuments)
	r.Get("/api/docs/{id}", s.handleGetDocument)
	r.Post("/api/chat", s.handleChat)

	r.Post("/api/upload", s.handleUpload)
	r.Post("/api/text", s.handleAddText)
	r.Post("/api/append/{id}", s.handleAppend)
	r.Delete("/api/docs/{id}", s.handleDeleteDocument)
	r.Post("/api/reindex", s.handleReindex)

	r.Get("/api/watch/dirs", s.handleWatchDirectoriesList)
	r.Post("/api/watch/dirs", s.handleWatchDirectoriesAdd)
	r.Delete("/api/watch/dirs", s.handleWatchDirectoriesRemove)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
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
