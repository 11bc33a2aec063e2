package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/meetscribe/internal/api"
	"github.com/phrazzld/meetscribe/internal/app"
	"github.com/phrazzld/meetscribe/internal/auth"
	"github.com/phrazzld/meetscribe/internal/config"
	"github.com/phrazzld/meetscribe/internal/platform/logger"
	"github.com/phrazzld/meetscribe/internal/platform/observability"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the job service and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port, _ := cmd.Flags().GetInt("port"); port > 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("port", 0, "HTTP listen port (overrides server.port)")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Setup(logger.Config{Level: cfg.Server.LogLevel, Format: cfg.Server.LogFormat})
	log.Info("Server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"queue_mode", cfg.Queue.Mode,
		"speech_provider", cfg.Speech.Provider)

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("failed to flush traces", "error", err)
		}
	}()

	tokens, err := auth.NewTokenService(cfg.Auth, nil)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	router := api.NewRouter(api.Services{
		Jobs:      a,
		Queue:     a.Queue,
		Tracker:   a.Tracker,
		Storage:   a.Storage,
		Conflicts: a.Conflicts,
		Health:    a,
		Tokens:    tokens,
	}, log)

	serveErr := runHTTPServer(ctx, &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.Server.ShutdownTimeout, log)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Stop(stopCtx); err != nil {
		log.Error("application shutdown failed", "error", err)
		serveErr = errors.Join(serveErr, err)
	}
	log.Info("Server shutdown completed")
	return serveErr
}

// runHTTPServer serves until ctx is done or the listener fails, then shuts
// the server down within timeout.
func runHTTPServer(ctx context.Context, server *http.Server, timeout time.Duration, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err, ok := <-errCh:
		if ok {
			log.Error("Server failed", "error", err)
			listenErr = fmt.Errorf("server failed: %w", err)
		}
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		return errors.Join(listenErr, fmt.Errorf("server shutdown failed: %w", err))
	}
	return listenErr
}
