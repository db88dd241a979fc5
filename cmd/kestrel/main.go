// Kestrel - Real-time fraud scoring for payment transactions.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/artifact"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	applyEnvOverrides(cfg)

	slog.Info("configuration loaded",
		"models_dir", cfg.Artifacts.Dir,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize artifact store and load whatever is on disk. A missing or
	// empty directory is not fatal; /predict degrades until models arrive.
	store := artifact.NewStore(cfg.Artifacts.Dir)
	modelsLoaded, err := store.Load()
	if err != nil {
		slog.Error("failed to load model artifacts", "error", err)
		os.Exit(1)
	}
	slog.Info("artifact store initialized",
		"dir", cfg.Artifacts.Dir,
		"models_loaded", modelsLoaded,
	)

	// Optional filesystem watcher for artifact hot-reload
	if cfg.Artifacts.Watch {
		watcher, werr := artifact.NewWatcher(store, cfg.Artifacts.WatchDebounce)
		if werr != nil {
			slog.Error("failed to start artifact watcher", "error", werr)
		} else {
			watcher.Start(ctx)
			defer watcher.Close()
			slog.Info("artifact watcher started", "debounce", cfg.Artifacts.WatchDebounce)
		}
	}

	// Optional policy overlay
	var actionPolicy scoring.ActionPolicy
	if cfg.Policy.Path != "" {
		engine, perr := policy.NewEngine()
		if perr != nil {
			slog.Error("failed to initialize policy engine", "error", perr)
			os.Exit(1)
		}
		if perr := engine.LoadFile(cfg.Policy.Path); perr != nil {
			slog.Error("failed to load policy rules", "path", cfg.Policy.Path, "error", perr)
			os.Exit(1)
		}
		slog.Info("policy engine initialized", "rules_count", engine.RuleCount())
		actionPolicy = engine
	}

	// Initialize scorer
	scorer := scoring.NewScorer(store, cfg.Thresholds, actionPolicy)
	slog.Info("scorer initialized",
		"review_threshold", cfg.Thresholds.Review,
		"block_threshold", cfg.Thresholds.Block,
	)

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, scorer)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, scorer, repo, cacheImpl, busImpl, Version, cfg.Cache.PredictionTTL)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// applyEnvOverrides layers environment configuration over defaults.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_MODELS_DIR"); v != "" {
		cfg.Artifacts.Dir = v
	}
	if os.Getenv("KESTREL_WATCH_MODELS") == "true" {
		cfg.Artifacts.Watch = true
	}
	if v := os.Getenv("KESTREL_REVIEW_THRESHOLD"); v != "" {
		if th, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.Review = th
		}
	}
	if v := os.Getenv("KESTREL_BLOCK_THRESHOLD"); v != "" {
		if th, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Thresholds.Block = th
		}
	}
	if v := os.Getenv("KESTREL_DB_DRIVER"); v != "" {
		cfg.Repository.Driver = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_CACHE_TYPE"); v != "" {
		cfg.Cache.Type = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_BUS_TYPE"); v != "" {
		cfg.EventBus.Type = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               KESTREL                     ║")
	fmt.Println("  ║       Fraud Scoring Engine                ║")
	fmt.Println("  ║   Every transaction, weighed in flight.   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Models:   %s\n", cfg.Artifacts.Dir)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict             - Score a transaction")
	fmt.Println("    POST /reload              - Reload model artifacts")
	fmt.Println("    GET  /models              - Model metadata")
	fmt.Println("    GET  /feature-importance  - Ranked feature importances")
	fmt.Println("    GET  /predictions         - Recent predictions")
	fmt.Println("    GET  /predictions/{id}    - Get prediction by ID")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
