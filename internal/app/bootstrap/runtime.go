package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/hospital-scheduling-admin/internal/config"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/history"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/statuscache"
	"github.com/wolfman30/hospital-scheduling-admin/internal/jobs/watch"
	"github.com/wolfman30/hospital-scheduling-admin/pkg/logging"
)

// BuildRedisClient returns a configured Redis client when REDIS_ADDR is set.
// When verify is true, a failed ping returns nil so callers run without cache.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; job status cache disabled", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgres opens a pool for watch history. An empty URL or a failed
// ping returns nil; history is optional.
func ConnectPostgres(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("postgres pool not created; watch history disabled", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("postgres not reachable; watch history disabled", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// Stores bundles the optional persistence layers of the watch registry.
type Stores struct {
	Cache   *statuscache.Store
	History *history.Store
}

// WatchConfig fills the registry config from the optional stores. Nil stores
// stay out of the interfaces so the watcher skips them.
func (s Stores) WatchConfig(base watch.Config) watch.Config {
	if s.Cache != nil {
		base.Cache = s.Cache
	}
	if s.History != nil {
		base.Recorder = s.History
	}
	return base
}

// BuildStores wires the status cache and history store from live clients.
func BuildStores(cfg *appconfig.Config, redisClient *redis.Client, pool *pgxpool.Pool) Stores {
	var stores Stores
	if redisClient != nil {
		ttl := statuscache.DefaultTTL
		if cfg != nil && cfg.JobStatusCacheTTL > 0 {
			ttl = cfg.JobStatusCacheTTL
		}
		stores.Cache = statuscache.New(redisClient, ttl)
	}
	if pool != nil {
		stores.History = history.NewStore(pool)
	}
	return stores
}
