package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/backend"
	"github.com/stemsi/exstem-examclient/internal/config"
	"github.com/stemsi/exstem-examclient/internal/database"
	"github.com/stemsi/exstem-examclient/internal/handler"
	"github.com/stemsi/exstem-examclient/internal/logger"
	"github.com/stemsi/exstem-examclient/internal/repository"
	"github.com/stemsi/exstem-examclient/internal/router"
	"github.com/stemsi/exstem-examclient/internal/service"
	"github.com/stemsi/exstem-examclient/internal/validator"
	"github.com/stemsi/exstem-examclient/internal/worker"
)

const submitRetryBackoff = time.Second

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("backend", cfg.BackendURL).
		Str("session_backend", cfg.SessionBackend).
		Bool("violation_archive", cfg.ViolationArchive).
		Msg("Starting ExStem exam client agent")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Redis ──────────────────────────────────────────────
	// Redis always backs durable state and the event stream.
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Connect to PostgreSQL (archive only) ──────────────────────────
	var pool *pgxpool.Pool
	if cfg.ViolationArchive {
		pool, err = database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
	}

	// ─── Initialize Storage ────────────────────────────────────────────
	var sessionBackend repository.Backend
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		sessionBackend = repository.NewRedisBackend(rdb, cfg.SessionTTL)
	default:
		sessionBackend = repository.NewMemoryBackend()
	}
	stores := repository.NewStateStores(sessionBackend, repository.NewRedisBackend(rdb, 0), log)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg.JWTSecret)
	client := backend.New(cfg.BackendURL, cfg.BackendWait)

	var queue *repository.ViolationQueue
	var archive service.ViolationArchiver
	if cfg.ViolationArchive {
		queue = repository.NewViolationQueue(rdb)
		archive = queue
	}
	reporter := service.NewAsyncReporter(client, archive, log)

	sessions := service.NewSessionManager(stores, service.SessionDeps{
		Backend:  client,
		Reporter: reporter,
		Config: service.SessionConfig{
			DefaultDuration: cfg.DefaultExamDuration,
			StrictDuration:  cfg.StrictDuration,
			MaxViolations:   cfg.MaxViolations,
			RedirectDelay:   cfg.RedirectDelay,
			SubmitRetries:   cfg.SubmitRetries,
			RetryBackoff:    submitRetryBackoff,
		},
		Clock: time.Now,
		Log:   log,
	}, func(examID string, studentID int) service.EventSink {
		return repository.NewEventPublisher(rdb, examID, studentID, log)
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewExamSessionHandler(sessions, cfg.RedirectDelay, log),
		Stream:  handler.NewStreamHandler(rdb, sessions, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	if cfg.ViolationArchive {
		violationWorker := worker.NewViolationWorker(queue, repository.NewViolationRepository(pool), log)
		go func() {
			defer close(workerDone)
			violationWorker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	stop := make(chan struct{})
	r := router.SetupRouter(authService, handlers, cfg, stop)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverLog := logger.Component(log, "http")
	go func() {
		serverLog.Info().Str("addr", srv.Addr).Msg("Agent listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverLog.Fatal().Err(err).Msg("Server error")
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
	close(stop)

	// 2. Stop session timers. Their state stays in storage for the next run.
	sessions.Shutdown()

	// 3. Stop the archive worker and let it flush its buffer.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Violation worker did not stop in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
