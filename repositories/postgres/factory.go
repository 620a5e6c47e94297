package postgres

import (
	"context"

	"github.com/upb/authz-gateway/config"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"go.uber.org/zap"
)

// RepositoryFactory owns the pool and builds the repositories on top of it
type RepositoryFactory struct {
	db     *DB
	logger *zap.Logger
}

// NewRepositoryFactory opens the pool described by cfg.Database
func NewRepositoryFactory(cfg *config.Config, logger *zap.Logger) (*RepositoryFactory, error) {
	db, err := NewDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, logger: logger}, nil
}

// NewRepositoryFactoryFromDB builds a factory around an existing pool
func NewRepositoryFactoryFromDB(db *DB, logger *zap.Logger) *RepositoryFactory {
	return &RepositoryFactory{db: db, logger: logger}
}

// NewRepositories creates all repository instances
func (f *RepositoryFactory) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users:         NewUserRepository(f.db, f.logger),
		Roles:         NewRoleRepository(f.db, f.logger),
		Permissions:   NewPermissionRepository(f.db, f.logger),
		RefreshTokens: NewRefreshTokenRepository(f.db, f.logger),
		TxManager:     NewTransactionManager(f.db, f.logger),
	}
}

// Migrate creates the schema and seeds the super-admin role
func (f *RepositoryFactory) Migrate(ctx context.Context) error {
	if err := f.db.InitSchema(ctx); err != nil {
		return err
	}
	return f.db.SeedRoles(ctx, models.SuperAdminRole)
}

// GetDB returns the database connection
func (f *RepositoryFactory) GetDB() *DB {
	return f.db
}

// Close closes the database connection
func (f *RepositoryFactory) Close() error {
	return f.db.Close()
}
