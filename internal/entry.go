// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/zettel/internal/api"
	"github.com/starford/zettel/internal/graph"
	"github.com/starford/zettel/internal/index"
	"github.com/starford/zettel/internal/mcpserver"
	"github.com/starford/zettel/internal/repository"
	"github.com/starford/zettel/internal/sse"
	"github.com/starford/zettel/internal/storage"
)

// runtime is the wired core shared by every entry point.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	repo   *repository.Repository
	graph  *graph.Service
}

func newApplication(opts []Option) (*application, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// open initializes logging, the vault, the index and the repository.
// onEvent, if non-nil, receives every committed repository change.
func (a *application) open(defaultOut io.Writer, onEvent func(repository.Event)) (*runtime, error) {
	cfg := a.config
	out := a.logOut
	if out == nil {
		out = defaultOut
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("watcher", cfg.Watcher.Enabled))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path, storage.WithIgnore(cfg.Vault.Ignore...))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	repoOpts := []repository.Option{
		repository.WithLogger(logger),
		repository.WithRequireContent(cfg.Notes.RequireContent),
		repository.WithIndexRetries(cfg.Notes.IndexRetries),
	}
	if onEvent != nil {
		repoOpts = append(repoOpts, repository.WithEventFunc(onEvent))
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		repo:   repository.New(store, db, repoOpts...),
		graph:  graph.New(db),
	}, nil
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

// catchUp applies edits made while the process was not running.
func (rt *runtime) catchUp(ctx context.Context) {
	report, err := rt.repo.Reconcile(ctx)
	if err != nil {
		rt.logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
		return
	}
	for _, fe := range report.Errors {
		rt.logger.Warn("note file skipped", slog.String("path", fe.Path), slog.String("error", fe.Err.Error()))
	}
}

// watch follows out-of-band vault edits until ctx is cancelled.
func (rt *runtime) watch(ctx context.Context) error {
	if !rt.cfg.Watcher.Enabled {
		return nil
	}
	if err := index.Watch(ctx, rt.repo, rt.store, rt.logger, rt.cfg.Watcher.ReconcileInterval); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	return nil
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// SSE broker; repository changes are relayed to it.
	broker := sse.NewBroker(cfg.Watcher.GraphThrottle, sse.WithHeartbeat(15*time.Second))
	defer broker.Close()

	rt, err := app.open(os.Stdout, func(e repository.Event) {
		broker.PublishNoteEvent(string(e.Kind), e.ID, e.Path)
	})
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	rt.catchUp(ctx)

	apiRouter := api.NewRouter(rt.repo, rt.graph, logger, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		n, err := rt.db.Count(req.Context())
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"index unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","notes":%d,"pending":%d}`, n, len(rt.repo.Pending()))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher.
	g.Go(func() error {
		return rt.watch(gCtx)
	})

	// Start HTTP server.
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
		defer signal.Stop(quit)

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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the errgroup once the server is down, which also stops
// the watcher.
var errShutdown = errors.New("shutdown")

// ServeMCP serves the MCP tools over stdin/stdout. Logs go to stderr since
// stdout carries protocol frames.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.open(os.Stderr, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.catchUp(ctx)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := mcpserver.New(rt.repo, rt.graph, rt.logger, app.version)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.watch(gCtx)
	})
	g.Go(func() error {
		rt.logger.Info("MCP server listening on stdio")
		err := srv.ServeStdio(gCtx, os.Stdin, os.Stdout)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			// Client hung up; stop the watcher with it.
			return errShutdown
		}
		return fmt.Errorf("mcp server: %w", err)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// Rebuild reconstructs the index from the vault and returns the report.
func Rebuild(ctx context.Context, opts ...Option) (*repository.RebuildReport, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	rt, err := app.open(os.Stderr, nil)
	if err != nil {
		return nil, err
	}
	defer rt.Close()
	return rt.repo.Rebuild(ctx)
}

// Check compares the index with the vault. With fix set, the drift is
// repaired and the reconcile report is returned as well.
func Check(ctx context.Context, fix bool, opts ...Option) (*repository.DriftReport, *repository.ReconcileReport, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, nil, err
	}
	rt, err := app.open(os.Stderr, nil)
	if err != nil {
		return nil, nil, err
	}
	defer rt.Close()

	drift, err := rt.repo.CheckDrift(ctx)
	if err != nil || !fix {
		return drift, nil, err
	}
	fixed, err := rt.repo.Reconcile(ctx)
	return drift, fixed, err
}
