// Package infra opens the external resources the daemon depends on.
package infra

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/tangle_account/internal/config"
	"github.com/congo-pay/tangle_account/internal/store"
)

// NewPostgresPool configures a PostgreSQL connection pool and makes sure the
// account_states table exists.
func NewPostgresPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	if url == "" {
		return nil, fmt.Errorf("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, store.PostgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure postgres schema: %w", err)
	}

	return pool, nil
}

// NewRedisClient configures a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Resources holds the optional connections opened at startup.
type Resources struct {
	Store store.Store
	DB    *pgxpool.Pool
	Cache *redis.Client

	closers []func()
}

// Open builds the configured state store, sealed when a passphrase is set, and
// connects Redis when REDIS_URL is set.
func Open(ctx context.Context, cfg config.Config) (*Resources, error) {
	r := &Resources{}

	switch cfg.StateStore {
	case config.StorePostgres:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		r.DB = pool
		r.closers = append(r.closers, pool.Close)
		r.Store = store.NewPostgresStore(pool)
	case config.StoreSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		r.closers = append(r.closers, func() { db.Close() })
		r.Store = store.NewSQLiteStore(db)
	default:
		fs, err := store.NewFileStore(cfg.StateDir)
		if err != nil {
			return nil, err
		}
		r.Store = fs
	}

	if cfg.StatePassphrase != "" {
		sealed, err := store.Seal(r.Store, cfg.StatePassphrase)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Store = sealed
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Cache = cache
		r.closers = append(r.closers, func() { cache.Close() })
	}

	return r, nil
}

// Close releases everything Open acquired, newest first.
func (r *Resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
