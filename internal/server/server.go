// Package server assembles the HTTP surface: the websocket hub at /ws, the
// Prometheus endpoint at /metrics, and a health check. It owns the hub
// handler registrations that translate UI messages into domain calls.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/coaching"
	"github.com/paigeai/paige/internal/config"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/sessions"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/internal/watcher"
	"github.com/paigeai/paige/internal/workspace"
)

// MessageHub is the hub surface the server uses: it serves the websocket
// endpoint, accepts handler registrations, and fans out broadcasts.
type MessageHub interface {
	http.Handler
	On(msgType string, fn hub.Handler) func()
	Broadcast(msgType string, payload any)
}

// Options wires a server to the assembled application.
type Options struct {
	Config    *config.Config
	Hub       MessageHub
	Sessions  *sessions.Registry
	Buffers   *buffers.Cache
	Workspace *workspace.Workspace
	Pipeline  *coaching.Pipeline
	Actions   *store.ActionStore
	Stats     *store.SessionStore
	Watcher   *watcher.Watcher
	Scheduler *buffers.Scheduler
	Logger    *observability.Logger
}

// Server is the HTTP front of the backend.
type Server struct {
	cfg       *config.Config
	hub       MessageHub
	sessions  *sessions.Registry
	buffers   *buffers.Cache
	ws        *workspace.Workspace
	pipeline  *coaching.Pipeline
	actions   *store.ActionStore
	stats     *store.SessionStore
	watcher   *watcher.Watcher
	scheduler *buffers.Scheduler
	logger    *observability.Logger

	httpServer *http.Server
}

// New creates the server and registers all hub handlers.
func New(opts Options) *Server {
	s := &Server{
		cfg:       opts.Config,
		hub:       opts.Hub,
		sessions:  opts.Sessions,
		buffers:   opts.Buffers,
		ws:        opts.Workspace,
		pipeline:  opts.Pipeline,
		actions:   opts.Actions,
		stats:     opts.Stats,
		watcher:   opts.Watcher,
		scheduler: opts.Scheduler,
		logger:    opts.Logger,
	}
	s.registerHandlers()

	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Config.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening and starts the background components. Blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	if s.watcher != nil {
		if err := s.watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(s.cfg.Buffers.SummaryInterval); err != nil {
			return err
		}
	}

	s.logger.Info(ctx, "server listening",
		"addr", s.httpServer.Addr, "project_dir", s.cfg.Server.ProjectDir)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener and background components.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
