// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/mckinley/stagehand/internal/api"
	"github.com/mckinley/stagehand/internal/approval"
	"github.com/mckinley/stagehand/internal/journal"
	"github.com/mckinley/stagehand/internal/mcpserver"
	"github.com/mckinley/stagehand/internal/orchestrator"
	"github.com/mckinley/stagehand/internal/plan"
	"github.com/mckinley/stagehand/internal/sse"
	"github.com/mckinley/stagehand/internal/stage"
	"github.com/mckinley/stagehand/internal/status"
	"github.com/mckinley/stagehand/internal/storage"
	"github.com/mckinley/stagehand/internal/watch"
	"github.com/mckinley/stagehand/internal/workflow"
)

// core holds the wired engine shared by the HTTP and MCP entry points.
type core struct {
	cfg    *Config
	logger *slog.Logger
	store  *stage.Store
	db     *journal.DB
	gate   *approval.Gate
	agg    *status.Aggregator
	svc    *workflow.Service
	broker *sse.Broker
}

func (c *core) close() {
	if c.broker != nil {
		c.broker.Close()
	}
	if c.db != nil {
		c.db.Close()
	}
}

// buildCore wires storage, journal, gate, and service from config.
// withBroker controls whether an SSE broker is attached; the MCP entry
// point runs without one.
func buildCore(cfg *Config, withBroker bool) (*core, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	fs, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := journal.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init journal: %w", err)
	}

	store := stage.NewStore(fs)
	gate := approval.NewGate(store, approval.Params{
		TTL:             cfg.Orchestrator.ApprovalTTL(),
		MaxPayloadBytes: cfg.Orchestrator.MaxPayloadBytes,
		EscalateAfter:   cfg.Orchestrator.EscalateAfter,
	})
	plans := plan.NewEngine(store)
	agg := status.NewAggregator(store, fs, db, cfg.Orchestrator.WarnWindow(), cfg.Orchestrator.EscalateAfter)

	var broker *sse.Broker
	if withBroker {
		broker = sse.NewBroker(2 * time.Second)
	}

	svc := workflow.NewService(store, db, gate, plans, agg, broker)

	return &core{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		gate:   gate,
		agg:    agg,
		svc:    svc,
		broker: broker,
	}, nil
}

// Run starts the full application (HTTP API, orchestrator, inbox
// watcher) with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	c, err := buildCore(cfg, true)
	if err != nil {
		return err
	}
	defer c.close()

	logger := c.logger
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	orch := orchestrator.New(orchestrator.Params{
		Store:     c.store,
		Journal:   c.db,
		Gate:      c.gate,
		Agg:       c.agg,
		Registry:  orchestrator.NewLogRegistry(logger),
		Broker:    c.broker,
		Logger:    logger,
		Interval:  cfg.Orchestrator.ScanInterval(),
		Briefings: cfg.Orchestrator.Briefings,
	})

	apiRouter := api.NewRouter(c.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Coordination loop.
	g.Go(func() error {
		return orch.Run(gCtx)
	})

	// Inbox drop-folder watcher.
	if cfg.Inbox.Enabled {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		inbox := watch.NewInbox(cfg.Inbox.Path, c.svc, c.db, logger)
		g.Go(func() error {
			return inbox.Run(gCtx)
		})
	}

	// HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server against the same vault. Logs go
// to stderr so stdout stays clean for the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	c, err := buildCore(cfg, false)
	if err != nil {
		return err
	}
	defer c.close()

	// stdio transport owns stdout; route logs away from it.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	if removed, err := c.store.Reconcile(logger); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	} else if removed > 0 {
		logger.Info("startup reconcile resolved duplicates", slog.Int("removed", removed))
	}

	srv := mcpserver.New(c.svc)
	logger.Info("MCP server starting on stdio")
	return srv.ServeStdio()
}
