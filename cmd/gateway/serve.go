package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dskow/prefix-fallback/internal/config"
	"github.com/dskow/prefix-fallback/internal/gateway"
	"github.com/dskow/prefix-fallback/internal/logging"
	"github.com/dskow/prefix-fallback/internal/telemetry"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), 1)
	}

	logger, closer, err := logging.Open(cfg.Logging)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening log output: %v", err), 1)
	}
	defer closer.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"routes", len(cfg.Routes),
		"retry_prefix", cfg.Retry.Prefix,
		"retry_enabled", cfg.Retry.IsEnabled(),
		"auth_enabled", cfg.Auth.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"tracing_enabled", cfg.Tracing.Enabled,
	)

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, os.Stderr, logger)
		if err != nil {
			return cli.Exit(fmt.Sprintf("initializing tracing: %v", err), 1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Error("tracer shutdown", "error", err)
			}
		}()
	}

	g, err := gateway.Build(cfg, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("building gateway: %v", err), 1)
	}
	live := gateway.NewLive(g)
	defer func() { live.Current().Close() }()

	reloader := config.NewReloader(configPath, cfg, logger)
	reloader.OnReload(func(newCfg *config.Config) {
		if err := live.Reload(newCfg, logger); err != nil {
			logger.Error("config reload rejected, keeping current gateway", "error", err)
		}
	})
	if err := reloader.Start(); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	}
	defer reloader.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      live,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	if err := run(ctx, srv, cfg.Server.ShutdownTimeout, logger); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

// run serves until ctx is cancelled, then drains in-flight requests for at
// most timeout.
func run(ctx context.Context, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting gateway", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("draining in-flight requests", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("gateway stopped gracefully")
	return nil
}
