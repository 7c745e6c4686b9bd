package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/prudhvinik1/changesync/internal/config"
	"github.com/prudhvinik1/changesync/internal/database"
	"github.com/prudhvinik1/changesync/internal/events"
	"github.com/prudhvinik1/changesync/internal/handlers"
	"github.com/prudhvinik1/changesync/internal/lifecycle"
	"github.com/prudhvinik1/changesync/internal/repositories"
	"github.com/prudhvinik1/changesync/internal/services"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With("instance_id", instanceID)

	// Initialize database connections
	backend, err := database.OpenBackend(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()
	logger.Info("Storage ready", "backend", backend.Name())

	lc := lifecycle.New(logger)
	signalCtx, stopSignals := context.WithCancel(ctx)
	defer stopSignals()
	lc.NotifySignals(signalCtx)

	coord := database.NewCoordinator(backend,
		database.WithLifecycle(lc),
		database.WithMaxRetries(cfg.TxMaxRetries),
		database.WithLogger(logger),
	)

	var (
		broker   events.Broker
		sessions repositories.SessionRepository
		presence repositories.PresenceRepository
	)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer redisClient.Close()

		broker = events.NewRedisBroker(redisClient, logger)
		sessions = repositories.NewRedisSessionRepository(redisClient)
		presence = repositories.NewRedisPresenceRepository(redisClient)
	} else {
		logger.Warn("REDIS_URL not set: updates stay in this process, sessions and presence are not tracked")
		broker = events.NewMemoryBroker()
	}

	hub := events.NewHub(0)
	router := events.NewRouter(hub, broker,
		events.WithChannel(cfg.UpdatesChannel),
		events.WithOrigin(instanceID),
		events.WithRouterLogger(logger),
	)
	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("failed to start update router: %w", err)
	}

	ledger := repositories.NewSQLChangeLedger(coord)
	kvRepo := repositories.NewSQLKVRepository(coord)

	authService := services.NewAuthService(sessions, cfg.JWTSecret, cfg.JWTExpiry, services.IssuePolicy{
		Enabled:    cfg.AuthDevIssue,
		SecretHash: cfg.AuthIssueSecretHash,
	})
	changesService := services.NewChangesService(ledger, cfg.ChangesPageLimit)
	kvService := services.NewKVService(coord, kvRepo, ledger, router)

	// Initialize HTTP Server
	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: handlers.NewRouter(handlers.Deps{
			Auth:       authService,
			Changes:    changesService,
			KV:         kvService,
			Hub:        hub,
			Presence:   presence,
			Lifecycle:  lc,
			Storage:    backend,
			InstanceID: instanceID,
			Logger:     logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.OnShutdown("http-server", server.Shutdown)
	lc.OnShutdown("update-router", router.Close)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	g, gctx := errgroup.WithContext(workerCtx)

	g.Go(func() error {
		logger.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			lc.InitiateShutdown("http server failed")
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.ChangesCompactionEnabled {
		worker := services.NewCompactionWorker(ledger, cfg.ChangesCompactionInterval, cfg.ChangesMaxEntries, clock.WallClock, logger)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	// graceful shutdown
	g.Go(func() error {
		select {
		case <-lc.AwaitShutdown():
		case <-gctx.Done():
			lc.InitiateShutdown("worker failed")
		}

		logger.Info("Shutting down server...", "reason", lc.Reason())
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		err := lc.Drain(drainCtx)
		stopWorkers()
		return err
	})

	return g.Wait()
}
