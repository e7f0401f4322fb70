// Package server provides the HTTP API for vecpager.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hyperjump/vecpager/internal/config"
	"github.com/hyperjump/vecpager/internal/indexer"
	"github.com/hyperjump/vecpager/internal/metrics"
	"github.com/hyperjump/vecpager/internal/search"
)

// SpoolService is the spool watcher as seen by the API.
type SpoolService interface {
	Directories() []string
	AddDirectory(path string, syncExisting bool) error
	RemoveDirectory(path string) error
}

// Server is the HTTP server for the vecpager API.
type Server struct {
	engine  *search.Engine
	indexer *indexer.Indexer
	streams *search.Registry
	logger  *zap.Logger
	server  *http.Server

	spool      SpoolService // optional
	configPath string       // where spool changes are saved; empty disables saving
	configMu   sync.Mutex
	config     *config.Config
}

// NewServer creates a server with the given dependencies. spool may be nil.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	streams *search.Registry,
	cfg *config.Config,
	logger *zap.Logger,
	spool SpoolService,
	configPath string,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:     engine,
		indexer:    idx,
		streams:    streams,
		config:     cfg,
		logger:     logger,
		spool:      spool,
		configPath: configPath,
	}
}

// Router builds the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/records", s.handlePutRecord)
		r.Get("/records/{id}", s.handleGetRecord)
		r.Delete("/records/{id}", s.handleDeleteRecord)
		r.Delete("/records", s.handleDeleteBySource)

		r.Post("/search", s.handleSearch)
		r.Post("/streams", s.handleOpenStream)
		r.Post("/streams/{handle}/next", s.handleStreamNext)
		r.Delete("/streams/{handle}", s.handleCloseStream)

		r.Post("/compact", s.handleCompact)
		r.Post("/flush", s.handleFlush)
		r.Get("/status", s.handleStatus)

		r.Get("/spool/directories", s.handleSpoolDirectoriesList)
		r.Post("/spool/directories", s.handleSpoolDirectoriesAdd)
		r.Delete("/spool/directories", s.handleSpoolDirectoriesRemove)
	})
	return r
}

// instrument logs each request at debug level and counts it by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
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
