package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/authz-gateway/app"
	"github.com/upb/authz-gateway/routes"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			logger.Info("starting authz-gateway",
				zap.String("storage", cfg.Storage.Driver),
				zap.Bool("redis", cfg.Redis.Addr != ""),
			)

			deps, err := app.NewDependencies(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize dependencies: %w", err)
			}
			defer func() {
				if err := deps.Close(context.Background()); err != nil {
					logger.Error("shutdown cleanup failed", zap.Error(err))
				}
			}()

			handler, rt, err := routes.SetupRoutes(deps)
			if err != nil {
				return fmt.Errorf("failed to set up routes: %w", err)
			}
			for _, d := range rt.Routes() {
				logger.Debug("route",
					zap.String("method", d.Method),
					zap.String("path", d.Path),
					zap.Bool("anonymous", d.Anonymous),
					zap.String("requirement", d.Requirement),
				)
			}

			deps.Start(ctx)

			srv := &http.Server{
				Addr:              cfg.Server.Address(),
				Handler:           handler,
				ReadTimeout:       cfg.Server.ReadTimeout,
				WriteTimeout:      cfg.Server.WriteTimeout,
				ReadHeaderTimeout: 5 * time.Second,
			}

			serveErr := make(chan error, 1)
			deps.Guard.Go("http-server", func() {
				logger.Info("server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
			})

			select {
			case err := <-serveErr:
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
			}

			logger.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides PORT and SERVER_PORT)")
	return cmd
}
