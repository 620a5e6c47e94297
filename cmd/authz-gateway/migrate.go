package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/authz-gateway/config"
	"github.com/upb/authz-gateway/repositories/postgres"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema and seed the admin role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Storage.Driver == config.StorageDriverMemory {
				logger.Info("memory storage driver has no schema to migrate")
				return nil
			}

			factory, err := postgres.NewRepositoryFactory(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer factory.Close()

			if err := factory.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			logger.Info("migrations applied", zap.String("database", cfg.Database.LogString()))
			return nil
		},
	}
}
