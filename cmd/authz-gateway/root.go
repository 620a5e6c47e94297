package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/authz-gateway/config"
	"github.com/upb/authz-gateway/internal/observability"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "authz-gateway",
		Short: "Authentication and authorization gateway",
		Long: `authz-gateway issues JWT session pairs, tracks refresh tokens and
revoked access tokens, and enforces role based permissions on its routes.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return root
}

// loadConfig reads the configuration and builds the process logger from it
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(cmd.Context())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(
		zap.String("service", "authz-gateway"),
		zap.String("environment", cfg.Environment),
		zap.String("version", version),
	), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
