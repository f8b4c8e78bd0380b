package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/paigeai/paige/internal/buffers"
	"github.com/paigeai/paige/internal/coaching"
	"github.com/paigeai/paige/internal/config"
	"github.com/paigeai/paige/internal/events"
	"github.com/paigeai/paige/internal/hub"
	"github.com/paigeai/paige/internal/memory"
	"github.com/paigeai/paige/internal/model"
	"github.com/paigeai/paige/internal/observability"
	"github.com/paigeai/paige/internal/observer"
	"github.com/paigeai/paige/internal/review"
	"github.com/paigeai/paige/internal/server"
	"github.com/paigeai/paige/internal/sessions"
	"github.com/paigeai/paige/internal/store"
	"github.com/paigeai/paige/internal/toolsurface"
	"github.com/paigeai/paige/internal/watcher"
	"github.com/paigeai/paige/internal/workspace"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		mcpStdio   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Paige backend",
		Long: `Start the Paige backend for one project directory.

The server will:
1. Load configuration and open the SQLite stores
2. Serve the UI websocket at /ws and Prometheus metrics at /metrics
3. Expose the read-only MCP tool surface over stdio
4. Restore a persisted active session, if one survived a restart

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, mcpStdio)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&mcpStdio, "mcp-stdio", true, "Serve the MCP tool surface on stdin/stdout")
	return cmd
}

func runServe(ctx context.Context, configPath string, mcpStdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	if err := os.MkdirAll(cfg.Server.DataDir, 0o755); err != nil {
		return err
	}
	db, err := store.Open(filepath.Join(cfg.Server.DataDir, "paige.db"))
	if err != nil {
		return err
	}
	defer db.Close()

	bus := events.NewBus()
	actionStore := store.NewActionStore(db, bus)
	sessionStore := store.NewSessionStore(db)
	planStore := store.NewPlanStore(db)
	apiCallStore := store.NewAPICallStore(db)

	ws, err := workspace.New(cfg.Server.ProjectDir)
	if err != nil {
		return err
	}
	cache := buffers.NewCache(actionStore)

	var client *model.Client
	if cfg.ModelEnabled() {
		client = model.NewClient(model.Options{
			Provider: model.NewAnthropicProvider(cfg.Model.APIKey),
			Recorder: apiCallStore,
			Logger:   logger,
			Metrics:  metrics,
			Timeout:  cfg.Model.CallTimeout,
		})
	} else {
		logger.Warn(ctx, "no API key configured; model-backed features disabled")
	}

	var memories memory.Store = memory.Noop{}
	if client.Enabled() {
		sqliteMemories, err := memory.OpenSQLite(
			filepath.Join(cfg.Server.DataDir, "memory.db"),
			memory.NewHashEmbedder(0))
		if err != nil {
			logger.Warn(ctx, "memory store unavailable; continuing without it", "error", err)
		} else {
			memories = sqliteMemories
			defer sqliteMemories.Close()
		}
	}

	// The hub's init payload needs the assembled server; bind it late.
	var srv *server.Server
	uiHub := hub.New(hub.Options{
		Logger:  logger,
		Metrics: metrics,
		Version: version,
		Init: func() map[string]any {
			if srv == nil {
				return map[string]any{}
			}
			return srv.InitPayload()
		},
	})

	reviewer := review.NewAgent(client, ws, cache, logger)
	pipeline := coaching.New(coaching.Options{
		Client:    client,
		Plans:     planStore,
		Memories:  memories,
		Workspace: ws,
		Buffers:   cache,
		Actions:   actionStore,
		Broadcast: uiHub,
		Reviewer:  reviewer,
		Logger:    logger,
	})

	classifier := observer.NewModelClassifier(client)
	registryOpts := sessions.Options{
		Config:    cfg.Session,
		Store:     sessionStore,
		Actions:   actionStore,
		Bus:       bus,
		Buffers:   cache,
		Broadcast: uiHub,
		Logger:    logger,
		Observers: func(sessionID int64) sessions.ObserverHandle {
			return observer.New(observer.Options{
				Config:     cfg.Observer,
				SessionID:  sessionID,
				Bus:        bus,
				Actions:    actionStore,
				Classifier: classifier,
				Broadcast:  uiHub,
				Logger:     logger,
				Metrics:    metrics,
			})
		},
	}
	if client.Enabled() {
		registryOpts.Planner = pipeline
		registryOpts.Reflector = pipeline
	}
	registry := sessions.NewRegistry(registryOpts)

	srv = server.New(server.Options{
		Config:    cfg,
		Hub:       uiHub,
		Sessions:  registry,
		Buffers:   cache,
		Workspace: ws,
		Pipeline:  pipeline,
		Actions:   actionStore,
		Stats:     sessionStore,
		Watcher:   watcher.New(ws, uiHub, logger),
		Scheduler: buffers.NewScheduler(cache, registry.ActiveID, logger),
		Logger:    logger,
	})

	tools := toolsurface.NewRegistry(actionStore, registry.ActiveID, logger, metrics)
	if err := toolsurface.RegisterAll(tools, toolsurface.Deps{
		Sessions:  registry,
		Buffers:   cache,
		Workspace: ws,
		Plans:     planStore,
		Actions:   actionStore,
		Broadcast: uiHub,
		OpenFiles: registry.OpenFiles,
		HintLevel: registry.HintLevel,
	}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mcpStdio {
		mcpServer := toolsurface.NewServer(tools, os.Stdout, logger, version)
		go func() {
			if err := mcpServer.Serve(ctx, os.Stdin); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(ctx, "mcp server stopped", "error", err)
			}
		}()
	}

	// Pick up a session that survived a restart.
	if restored, err := registry.Restore(ctx); err == nil {
		logger.Info(ctx, "restored active session", "session_id", restored.ID)
	} else if !errors.Is(err, sessions.ErrNoActiveSession) {
		logger.Warn(ctx, "session restore failed", "error", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(ctx) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
