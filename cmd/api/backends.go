package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"bizphone/internal/audit"
	"bizphone/internal/catalog"
	"bizphone/internal/config"
	"bizphone/internal/state"
	"bizphone/pkg/logger"
	"bizphone/pkg/utils"
)

// backends are the stores selected by CATALOG_BACKEND and STATE_BACKEND.
type backends struct {
	Catalog catalog.Repository
	State   state.Store
	Audit   *audit.Service

	db  *sql.DB
	rdb *redis.Client
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Routing.CatalogBackend {
	case config.BackendPostgres:
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.db = db

		repo := catalog.NewPostgresRepo(db)
		auditRepo := audit.NewPostgresRepo(db)
		if err := repo.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("catalog migrate: %w", err)
		}
		if err := auditRepo.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("audit migrate: %w", err)
		}
		b.Catalog = repo
		b.Audit = audit.NewService(auditRepo)
	default:
		logger.From(ctx).Warn("using in-memory catalog; configuration is lost on restart")
		b.Catalog = catalog.NewMemoryRepo()
		b.Audit = audit.NewService(audit.NewMemoryRepo())
	}

	switch cfg.Routing.StateBackend {
	case config.BackendRedis:
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.rdb = rdb

		rs := state.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
		rs.LockTTL = cfg.Routing.LockTTL
		rs.LockWait = cfg.Routing.LockWait
		b.State = rs
	default:
		logger.From(ctx).Warn("using in-memory call state; run a single process only")
		b.State = state.NewMemoryStore()
	}

	return b, nil
}

// Ready pings whichever network stores are configured.
func (b *backends) Ready(ctx context.Context) error {
	if b.db != nil {
		if err := utils.HealthCheck(ctx, b.db, 2*time.Second); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if b.rdb != nil {
		if err := b.rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (b *backends) Close() {
	if b.rdb != nil {
		_ = b.rdb.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}
