package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// serveHTTP runs the HTTP server until ctx is cancelled, then drains
// in-flight requests and background work in dependency order: stop taking
// requests, stop the claim worker so executions finish or return their
// claims, stop the janitor, then signal any stragglers via the registry.
func (app *application) serveHTTP(ctx context.Context) error {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:      app.newRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	app.logger.Info("shutdown signal received")

	timeout := time.Duration(app.config.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("http shutdown incomplete", "error", err)
	}

	app.worker.Stop()
	app.janitor.Stop()
	app.registry.CancelAll()

	app.logger.Info("shutdown complete")
	return nil
}
