// Package server provides the HTTP surface through which the dispatch
// collaborator invokes aggregation runs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/GNS-Science/toshi-hazard-post/internal/work"
)

// RunSpec is the body of one dispatch task message. Empty fields fall back
// to the service configuration.
type RunSpec struct {
	Locations  []string `json:"locations"`
	IMTs       []string `json:"imts"`
	Statistics []string `json:"statistics,omitempty"`
	LogicTree  string   `json:"logic_tree,omitempty"` // definition file path
	Dataset    string   `json:"dataset,omitempty"`    // local path or s3://bucket/key
}

// RunFunc executes one aggregation run for a spec. Wired up in main, where
// the store and coordinator for the (possibly overridden) dataset are built.
type RunFunc func(ctx context.Context, spec RunSpec) (*work.Result, error)

// Config holds server configuration.
type Config struct {
	Port    int
	DevMode bool
	Run     RunFunc
	Log     zerolog.Logger
}

// Server is the HTTP server for the aggregation service.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	run       RunFunc
	log       zerolog.Logger
	startedAt time.Time

	running chan struct{} // capacity 1: at most one run in flight
}

// New creates the HTTP server and mounts its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		run:       cfg.Run,
		log:       cfg.Log,
		startedAt: time.Now(),
		running:   make(chan struct{}, 1),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	if cfg.DevMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
		}))
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/aggregation/run", s.handleRun)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins serving. Blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener. An in-flight aggregation run completes on
// its own detached context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
