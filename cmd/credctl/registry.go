package main

import (
	"context"
	"log/slog"

	"sumbandila/internal/platform/config"
	"sumbandila/internal/platform/database"
	"sumbandila/internal/platform/redis"
	"sumbandila/internal/registry/store"
)

type postgresRegistry struct {
	pool *database.Pool
	pg   *store.Postgres
}

func (r *postgresRegistry) close() {
	_ = r.pool.Close()
}

func openPostgres(ctx context.Context, url string) (*postgresRegistry, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.URL = url
	dbCfg.ConnectTimeout = 0
	pool, err := database.New(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return &postgresRegistry{pool: pool, pg: store.NewPostgres(pool.DB())}, nil
}

type verifyRegistry struct {
	*postgresRegistry
	cache     *redis.Client
	resilient *store.Resilient
}

func (r *verifyRegistry) close() {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	r.postgresRegistry.close()
}

// openRegistry builds the read path: Postgres, optionally behind the Redis
// key cache, behind the circuit breaker.
func openRegistry(ctx context.Context, cfg *config.Config, databaseURL, redisURL string, logger *slog.Logger) (*verifyRegistry, error) {
	pg, err := openPostgres(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	reg := &verifyRegistry{postgresRegistry: pg}

	var backend store.Backend = pg.pg
	if redisURL != "" {
		redisCfg := cfg.Redis
		redisCfg.URL = redisURL
		client, err := redis.New(redisCfg)
		if err != nil {
			pg.close()
			return nil, err
		}
		reg.cache = client
		backend = store.NewRedisKeyCache(client.Client, backend, cfg.Redis.KeyCacheTTL, nil)
	}

	reg.resilient = store.NewResilient(backend,
		store.WithFailureThreshold(cfg.Credential.BreakerFailures),
		store.WithSuccessThreshold(cfg.Credential.BreakerSuccesses),
		store.WithOpenTimeout(cfg.Credential.BreakerOpenTimeout),
		store.WithResilientLogger(logger),
	)
	return reg, nil
}
