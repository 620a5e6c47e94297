package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/authz-gateway/config"
	"github.com/upb/authz-gateway/handlers"
	"github.com/upb/authz-gateway/internal/cache"
	"github.com/upb/authz-gateway/internal/denylist"
	"github.com/upb/authz-gateway/internal/observability"
	"github.com/upb/authz-gateway/internal/password"
	"github.com/upb/authz-gateway/internal/rbac"
	"github.com/upb/authz-gateway/internal/registry"
	"github.com/upb/authz-gateway/internal/router"
	"github.com/upb/authz-gateway/internal/token"
	"github.com/upb/authz-gateway/middleware"
	"github.com/upb/authz-gateway/models"
	"github.com/upb/authz-gateway/repositories"
	"github.com/upb/authz-gateway/repositories/memory"
	"github.com/upb/authz-gateway/repositories/postgres"
	"github.com/upb/authz-gateway/services/auth"
	"github.com/upb/authz-gateway/services/roles"
	"go.uber.org/zap"
)

// cacheCleanupInterval is how often the in-process cache drops expired entries
const cacheCleanupInterval = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Guard  *observability.Guard

	// Storage; RepoFactory and DB are nil under the memory driver
	RepoFactory *postgres.RepositoryFactory
	DB          *sql.DB
	Store       *memory.Store
	Repos       *repositories.Repositories

	// Cache backend; exactly one of Redis and MemoryCache is set
	Cache       cache.Cache
	Redis       *redis.Client
	MemoryCache *cache.Memory

	// Core
	Tokens   *token.Service
	Denylist *denylist.Denylist
	Resolver *rbac.Resolver

	// Services
	Auth  *auth.Service
	Roles *roles.Service

	// HTTP
	Errors         *handlers.ErrorResponder
	AuthMiddleware *middleware.AuthMiddleware
	Health         *handlers.HealthHandler
	Controllers    []router.Declarer

	cancel context.CancelFunc
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Guard:  observability.NewGuard(logger, cfg.IsProduction(), cfg.Server.FaultGracePeriod),
	}

	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	deps.initCache(ctx, cfg)

	if err := deps.initCore(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", deps.Redis != nil))
	return deps, nil
}

// initStorage opens the configured durable store
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		d.Store = memory.NewStore()
		d.Store.SeedRoles(models.SuperAdminRole)
		d.Repos = d.Store.Repositories()
		d.Logger.Warn("using in-memory storage; data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	if err := factory.Migrate(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB().DB
	d.Repos = factory.NewRepositories()
	return nil
}

// initCache selects Redis when an address is configured, otherwise the
// in-process cache. An unreachable Redis is not fatal: the circuit
// breaker opens and every consumer falls back.
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) {
	if cfg.Redis.Addr == "" {
		d.MemoryCache = cache.NewMemory(cfg.Authz.CacheMaxEntries)
		d.Cache = d.MemoryCache
		d.Logger.Info("using in-process cache", zap.Int("max_entries", cfg.Authz.CacheMaxEntries))
		return
	}

	d.Redis = redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	d.Cache = cache.NewRedis(d.Redis, cache.RedisConfig{
		KeyPrefix:        cfg.Redis.KeyPrefix,
		FailureThreshold: cfg.Redis.FailureThreshold,
		BreakerTimeout:   cfg.Redis.BreakerTimeout,
	}, d.Logger)

	if err := d.Cache.Ping(ctx); err != nil {
		d.Logger.Warn("redis unreachable at startup, running degraded",
			zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		return
	}
	d.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
}

// initCore builds the token service, denylist, resolver and services
func (d *Dependencies) initCore(cfg *config.Config) error {
	issuer, err := token.NewIssuer(token.IssuerConfig{
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Issuer:        cfg.JWT.Issuer,
	})
	if err != nil {
		return err
	}

	store := token.NewRefreshStore(d.Cache, d.Repos.RefreshTokens, issuer.RefreshTTL(), d.Logger)
	d.Tokens = token.NewService(issuer, store, d.Logger)
	d.Denylist = denylist.New(d.Cache, d.Logger)
	d.Resolver = rbac.NewResolver(d.Repos.Roles, d.Repos.Permissions, d.Cache, rbac.Config{
		CacheTTL:        cfg.Authz.PermissionCacheTTL,
		SuperAdminEmail: cfg.Authz.SuperAdminEmail,
	}, d.Logger)

	d.Auth = auth.NewService(d.Repos.Users, d.Tokens, d.Denylist, password.NewHasher(cfg.Authz.PasswordCost), d.Logger)
	d.Roles = roles.NewService(d.Repos, d.Resolver, d.Logger)
	return nil
}

// initHTTP builds the responder, guards and controllers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.Errors = handlers.NewErrorResponder(d.Logger, cfg.IsProduction())
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Tokens, d.Denylist, d.Repos.Users, d.Resolver, d.Errors, d.Logger)
	d.Health = handlers.NewHealthHandler(d.DB, d.Cache, d.Logger)

	var limiter registry.Middleware
	if cfg.RateLimit.AuthRequestsPerMinute > 0 {
		limiter = middleware.RateLimit(cfg.RateLimit.AuthRequestsPerMinute, time.Minute, d.Errors)
	}

	d.Controllers = []router.Declarer{
		handlers.NewAuthController(d.Auth, limiter, d.Logger),
		handlers.NewProfileController(d.Resolver),
		handlers.NewRoleController(d.Roles),
		handlers.NewPermissionController(d.Roles),
		handlers.NewUserRoleController(d.Roles),
	}
}

// Guards returns the authentication and authorization middleware for the router
func (d *Dependencies) Guards() router.Guards {
	return router.Guards{
		Authenticate: d.AuthMiddleware.RequireAuth,
		Authorize:    d.AuthMiddleware.RequirePermission,
	}
}

// Start launches the background workers under the fault guard. They stop
// when ctx is cancelled or Close is called.
func (d *Dependencies) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	sweep := d.Config.Authz.DenylistSweepInterval
	d.Guard.Go("denylist-sweeper", func() { d.Denylist.Run(ctx, sweep) })
	d.Guard.Go("refresh-token-purge", func() { d.Tokens.RunPurge(ctx, sweep) })
	if d.MemoryCache != nil {
		d.Guard.Go("cache-cleanup", func() { d.MemoryCache.StartCleanupWorker(ctx, cacheCleanupInterval) })
	}

	d.Logger.Info("background workers started", zap.Duration("sweep_interval", sweep))
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	if d.cancel != nil {
		d.cancel()
	}

	var errs []error

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	return errors.Join(errs...)
}
