package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/perimeterlabs/token-gateway/config"
	"github.com/perimeterlabs/token-gateway/repositories"
	"github.com/perimeterlabs/token-gateway/repositories/postgres"
	"github.com/perimeterlabs/token-gateway/services/audit"
	"github.com/perimeterlabs/token-gateway/services/cache"
	"github.com/perimeterlabs/token-gateway/services/extension"
	"github.com/perimeterlabs/token-gateway/services/gateway"
	"github.com/perimeterlabs/token-gateway/services/orchestrator"
	"github.com/perimeterlabs/token-gateway/services/ratelimit"
	"github.com/perimeterlabs/token-gateway/services/tokenstore"
	"github.com/perimeterlabs/token-gateway/services/validator"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger
	Redis  *redis.Client

	// Repositories
	Tokens  repositories.TokenRepository
	Tenants repositories.TenantRepository
	Audits  repositories.AuditRepository

	// Services
	Caches       *cache.Layer
	Limiter      *ratelimit.Service
	Auditor      *audit.Service
	Store        *tokenstore.Service
	Orchestrator *orchestrator.Orchestrator
	Extensions   *extension.Manager
	Gateway      *gateway.Service
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initCaches(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize caches: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection, schema, and repositories
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db

	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Tokens = postgres.NewTokenRepository(db, d.Logger)
	d.Tenants = postgres.NewTenantRepository(db, d.Logger)
	d.Audits = postgres.NewAuditRepository(db, d.Logger)

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initCaches builds the cache layer, backed by Redis for validation results
// when configured
func (d *Dependencies) initCaches(ctx context.Context, cfg *config.Config) error {
	var results cache.ResultStore

	if cfg.Caches.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}

		d.Redis = rdb
		results = cache.NewRedisResultStore(rdb, cfg.Caches.Validation.TTL, d.Logger)
		d.Logger.Info("redis validation cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	d.Caches = cache.NewLayer(cfg.Caches, results, d.Logger)
	return nil
}

// initServices wires the decision paths, orchestrator, and gateway facade
func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Limiter = ratelimit.NewService(cfg.RateLimit, d.Logger)

	d.Auditor = audit.NewService(d.Audits, cfg.Audit, d.Logger)
	if err := d.Auditor.Start(); err != nil {
		return fmt.Errorf("failed to start audit service: %w", err)
	}

	d.Store = tokenstore.NewService(d.Tokens, d.Caches, cfg, d.Logger)
	d.Extensions = extension.NewManager(d.Store, cfg.Extension, d.Logger)

	enhanced := validator.New(d.Store, d.Caches, d.Tenants, d.Limiter, cfg.RateLimit, d.Logger)
	legacy := validator.NewLegacy(d.Store, d.Logger)

	d.Orchestrator = orchestrator.New(legacy, enhanced, d.Auditor, cfg.Validation, d.Logger)
	d.Gateway = gateway.NewService(d.Orchestrator, d.Store, d.Extensions, d.Limiter, d.Auditor, d.Logger)

	return nil
}

// Close releases resources in reverse dependency order
func (d *Dependencies) Close() error {
	var firstErr error

	if d.Auditor != nil {
		if err := d.Auditor.Stop(10 * time.Second); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.Caches != nil {
		d.Caches.Close()
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
