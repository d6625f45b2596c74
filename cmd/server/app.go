package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/phrazzld/dispatch-api/internal/api"
	apimiddleware "github.com/phrazzld/dispatch-api/internal/api/middleware"
	"github.com/phrazzld/dispatch-api/internal/config"
	"github.com/phrazzld/dispatch-api/internal/generation"
	"github.com/phrazzld/dispatch-api/internal/lock"
	"github.com/phrazzld/dispatch-api/internal/notify"
	"github.com/phrazzld/dispatch-api/internal/platform/postgres"
	platformredis "github.com/phrazzld/dispatch-api/internal/platform/redis"
	"github.com/phrazzld/dispatch-api/internal/queue"
	"github.com/phrazzld/dispatch-api/internal/service/auth"
	"github.com/phrazzld/dispatch-api/internal/task"

	"github.com/google/uuid"
)

// application holds every long-lived component of the server so that
// startup, routing and shutdown all work off the same wiring.
type application struct {
	config *config.Config
	logger *slog.Logger

	db          *sql.DB
	redisClient *goredis.Client

	service  *task.Service
	worker   *task.Worker
	janitor  *task.Janitor
	registry *task.Registry

	authHandler    *api.AuthHandler
	taskHandler    *api.TaskHandler
	authMiddleware *apimiddleware.AuthMiddleware
}

// newApplication connects to Postgres and Redis and wires the task
// pipeline, the background loops and the HTTP handlers.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient, err := platformredis.NewClient(ctx, platformredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		closeQuietly(db, logger)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	taskStore := postgres.NewPostgresTaskStore(db)
	tenantStore := postgres.NewPostgresTenantStore(db)

	lease := time.Duration(cfg.Worker.LeaseSeconds) * time.Second
	taskQueue := queue.NewRedisQueue(redisClient, lease)
	locker := lock.NewRedisLocker(redisClient)

	gateway := notify.NewGateway(notify.NewRedisSink(redisClient), notify.BreakerConfig{
		FailureThreshold:  cfg.Notifier.FailureThreshold,
		OpenDuration:      time.Duration(cfg.Notifier.OpenDurationSeconds) * time.Second,
		HalfOpenSuccesses: cfg.Notifier.HalfOpenSuccesses,
	}, logger)

	registry := task.NewRegistry()
	service := task.NewService(taskStore, taskQueue, registry, gateway, logger)

	executor := generation.NewSimulatedExecutor(generation.DefaultConfig(), logger)

	workerConfig := task.WorkerConfig{
		InstanceID:        instanceID(cfg.Worker.InstanceID),
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.Worker.HeartbeatIntervalSeconds) * time.Second,
		LeaseExtension:    lease,
		MaxRetries:        cfg.Worker.MaxRetries,
	}
	worker := task.NewWorker(workerConfig, service, taskQueue, executor, logger)

	janitorConfig := task.JanitorConfig{
		RecoveryInterval: time.Duration(cfg.Janitor.RecoveryIntervalSeconds) * time.Second,
		ClaimTimeout:     time.Duration(cfg.Janitor.ClaimTimeoutSeconds) * time.Second,
		CleanupInterval:  time.Duration(cfg.Janitor.CleanupIntervalMinutes) * time.Minute,
		RetentionPeriod:  time.Duration(cfg.Janitor.RetentionHours) * time.Hour,
		LockExpiry:       task.DefaultJanitorConfig().LockExpiry,
	}
	janitor := task.NewJanitor(janitorConfig, service, taskQueue, locker, logger)

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		closeQuietly(db, logger)
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}
	tokenService := auth.NewTokenService(tenantStore, auth.NewBcryptVerifier(), jwtService)

	return &application{
		config:         cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		service:        service,
		worker:         worker,
		janitor:        janitor,
		registry:       registry,
		authHandler:    api.NewAuthHandler(tokenService),
		taskHandler:    api.NewTaskHandler(service),
		authMiddleware: apimiddleware.NewAuthMiddleware(jwtService),
	}, nil
}

// startBackground launches the claim worker and the janitor sweeps.
func (app *application) startBackground(ctx context.Context) {
	app.worker.Start(ctx)
	app.janitor.Start(ctx)
}

// cleanup releases the connection pools. Worker and janitor shutdown is
// handled by serveHTTP so in-flight tasks drain before the pools close.
func (app *application) cleanup() {
	if err := app.redisClient.Close(); err != nil {
		app.logger.Error("failed to close redis client", "error", err)
	}
	closeQuietly(app.db, app.logger)
}

// instanceID returns the configured worker identity, or generates one so
// that queue claims stay attributable when the operator sets nothing.
func instanceID(configured string) string {
	if configured != "" {
		return configured
	}

	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "dispatch"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func closeQuietly(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Error("failed to close database pool", "error", err)
	}
}
