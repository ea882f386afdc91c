package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/barrysci/stationtest-backend/internal/config"
	"github.com/barrysci/stationtest-backend/internal/database"
	"github.com/barrysci/stationtest-backend/internal/handler"
	"github.com/barrysci/stationtest-backend/internal/identity"
	"github.com/barrysci/stationtest-backend/internal/logger"
	"github.com/barrysci/stationtest-backend/internal/repository"
	"github.com/barrysci/stationtest-backend/internal/router"
	"github.com/barrysci/stationtest-backend/internal/service"
	"github.com/barrysci/stationtest-backend/internal/session"
	"github.com/barrysci/stationtest-backend/internal/store"
	"github.com/barrysci/stationtest-backend/internal/upstream"
	"github.com/barrysci/stationtest-backend/internal/validator"
	"github.com/barrysci/stationtest-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting Station Test Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to PostgreSQL (optional result journal) ───────────────
	var resultRepo *repository.ResultRepository
	var journal session.Journal
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()

		resultRepo = repository.NewResultRepository(pool)
		journal = worker.NewRedisJournal(rdb, log)
	} else {
		log.Info().Msg("DATABASE_URL not set, result journal disabled")
	}

	// ─── Initialize Core Components ────────────────────────────────────
	sessionStore := store.NewSessionStore(rdb, cfg.SessionTTL, log)
	upstreamClient := upstream.NewClient(cfg.QuestionEndpoint, cfg.MaxStations, cfg.UpstreamTimeout, log)
	submitter := upstream.NewRedisSubmitter(rdb, upstreamClient, log)
	resolver := identity.NewResolver(cfg.IPLookupURL, cfg.UpstreamTimeout, log)
	imageService := service.NewImageService(cfg.UpstreamTimeout, cfg.MaxImageBytes, log)

	manager := session.NewManager(sessionStore, upstreamClient, submitter, journal, session.Config{
		StationDuration:   cfg.StationDuration,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Catalog: handler.NewCatalogHandler(upstreamClient, log),
		Session: handler.NewSessionHandler(manager, log),
		Image:   handler.NewImageHandler(imageService, log),
		WS:      handler.NewWSHandler(manager, log, cfg.AllowedOrigins),
		Health:  handler.NewHealthHandler(rdb, resultRepo != nil),
	}
	if resultRepo != nil {
		handlers.Results = handler.NewResultsHandler(resultRepo, log)
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	submitWorker := worker.NewSubmitWorker(rdb, upstreamClient, log)
	go submitWorker.Start(workerCtx)

	if resultRepo != nil {
		journalWorker := worker.NewJournalWorker(rdb, resultRepo, log)
		go journalWorker.Start(workerCtx)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(resolver, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Persist live sessions so a restart can resume them.
	manager.Shutdown(shutdownCtx)

	// 3. Stop background workers and wait for queues to drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
