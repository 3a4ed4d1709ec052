package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/liliang-cn/mindrag/internal/api"
	"github.com/liliang-cn/mindrag/internal/api/middleware"
	"github.com/liliang-cn/mindrag/internal/observability"
	"github.com/liliang-cn/mindrag/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := observability.InitTracing(ctx, cfg.Telemetry, version)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			tctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownTracing(tctx); err != nil {
				logger.Warn("tracing shutdown failed", zap.Error(err))
			}
		}()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				logger.Warn("failed to release resources", zap.Error(err))
			}
		}()

		sweeper, err := session.NewSweeper(a.sessions, cfg.Session.SweepSchedule, logger, func(evicted int) {
			a.metrics.AddEvicted(evicted)
			if active, err := a.sessions.List(context.Background()); err == nil {
				a.metrics.SetActiveSessions(len(active))
			}
		})
		if err != nil {
			return fmt.Errorf("invalid session.sweep_schedule %q: %w", cfg.Session.SweepSchedule, err)
		}
		sweeper.Start()
		defer sweeper.Stop()

		var limiter *middleware.RateLimiter
		if cfg.RateLimit.Enabled {
			limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerHour)
		}

		router := api.SetupRouter(a.chat, a.admin, a.ingest, logger, api.RouterConfig{
			APIKey:       cfg.Admin.APIKey,
			AllowOrigins: cfg.Server.AllowOrigins,
			ServiceName:  cfg.Telemetry.ServiceName,
			RateLimiter:  limiter,
			Metrics:      a.metrics.Handler(),
		})

		srv := &http.Server{
			Addr:         cfg.Address(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  120 * time.Second,
		}

		serveErr := make(chan error, 1)
		go func() {
			logger.Info("starting mindrag server",
				zap.String("address", cfg.Address()),
				zap.String("base_url", cfg.Server.BaseURL),
				zap.String("version", version),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		select {
		case err := <-serveErr:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
		case <-ctx.Done():
		}

		logger.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		logger.Info("server exited")
		return nil
	},
}
