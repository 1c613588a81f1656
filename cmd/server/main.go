// Package main is the entrypoint for the promptpoll server: it serves the
// run API and hosts one worker claim loop in the same process.
package main

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

	"github.com/joho/godotenv"

	"github.com/rahulkarwa/promptpoll/internal/api"
	"github.com/rahulkarwa/promptpoll/internal/api/handler"
	"github.com/rahulkarwa/promptpoll/internal/cache"
	"github.com/rahulkarwa/promptpoll/internal/config"
	"github.com/rahulkarwa/promptpoll/internal/llm"
	"github.com/rahulkarwa/promptpoll/internal/store"
	"github.com/rahulkarwa/promptpoll/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// Local development convenience; absence of a .env file is not an error.
	_ = godotenv.Load()

	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis connected")

	// 5. Provider registry and store
	providers := llm.NewRegistry(cfg.LLM)
	pgStore := store.NewPostgresStore(pool)

	// 6. Start the worker claim loop
	wrk := worker.New(pgStore, redisCache, providers, cfg.Worker, cfg.Export, logger)
	workerDone := make(chan error, 1)
	go func() {
		workerDone <- wrk.Run(ctx)
	}()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache, logger),
		CreateRunHandler: handler.NewCreateRunHandler(pgStore, cfg.Limits, logger),
		GetRunHandler:    handler.NewGetRunHandler(pgStore, redisCache, logger),
		CancelRunHandler: handler.NewCancelRunHandler(pgStore, redisCache, logger),
		ExportRunHandler: handler.NewExportRunHandler(pgStore, logger),
	}
	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining...")
	}

	// Graceful shutdown: stop accepting requests, then let the worker finish
	// its in-flight jobs under its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-workerDone; err != nil {
		return fmt.Errorf("worker shutdown: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
