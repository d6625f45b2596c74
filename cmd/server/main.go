// Package main implements the entry point for the dispatch API server,
// the coordination layer that accepts generation tasks, fans them out to
// claim workers and pushes lifecycle notifications to tenants.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/dispatch-api/internal/config"
	"github.com/phrazzld/dispatch-api/internal/platform/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("dispatch-api failed: %v", err)
	}
}

// run loads configuration, wires the application and serves until a
// shutdown signal arrives.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger := logger.Setup(cfg.Server.LogLevel)
	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	if err := app.runMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	app.startBackground(ctx)

	return app.serveHTTP(ctx)
}
