package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/salpa/profits/internal/jobs"
	"github.com/salpa/profits/internal/observability"
	"github.com/salpa/profits/internal/platform/cache"
	"github.com/salpa/profits/internal/platform/db"
	"github.com/salpa/profits/internal/profits"
	"github.com/salpa/profits/internal/provider/memory"
	"github.com/salpa/profits/internal/provider/postgres"
	"github.com/salpa/profits/internal/provider/rest"
)

// Runtime holds the shared dependencies of the API server and the worker.
type Runtime struct {
	Config     *Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Cache      *profits.Cache
	Provider   profits.Provider
	Service    *profits.Service
	Metrics    *observability.Metrics
	JobMetrics *jobmetrics.Metrics
}

// Bootstrap connects the configured provider and cache and builds the
// engine service. A Redis outage downgrades to an uncached service.
func Bootstrap(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}
	rt.JobMetrics = jobmetrics.NewMetrics(rt.Metrics.Registerer())

	provider, err := rt.openProvider(ctx)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Provider = provider

	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("report cache disabled", slog.Any("error", err))
	} else {
		rt.Redis = client
		rt.Cache = profits.NewCache(client, cfg.CacheTTL)
	}

	svc := profits.NewService(provider, rt.Cache)
	svc.WithLogger(logger)
	svc.WithMetrics(profits.NewMetrics(rt.Metrics.Registerer()))
	svc.WithLimits(cfg.FetchConcurrency, cfg.RawCostLimit)
	rt.Service = svc
	return rt, nil
}

func (rt *Runtime) openProvider(ctx context.Context) (profits.Provider, error) {
	cfg := rt.Config
	switch cfg.Provider {
	case ProviderPostgres:
		pool, err := db.New(ctx, db.Options{
			DSN:              cfg.PGDSN,
			MaxConns:         int32(cfg.FetchConcurrency * 2),
			StatementTimeout: cfg.ProviderTimeout,
			ApplicationName:  "profits",
		})
		if err != nil {
			return nil, err
		}
		rt.Pool = pool
		return postgres.New(pool), nil
	case ProviderREST:
		return rest.New(cfg.RESTBaseURL, cfg.ProviderTimeout)
	case ProviderMemory:
		now := time.Now()
		return memory.New(memory.Snapshot{
			Today: profits.Today{Year: now.Year(), Month: int(now.Month()), Day: now.Day()},
		}), nil
	default:
		return nil, fmt.Errorf("app: unknown provider %q", cfg.Provider)
	}
}

// Checks returns the dependency probes for /healthz.
func (rt *Runtime) Checks() map[string]HealthCheck {
	checks := map[string]HealthCheck{}
	if rt.Pool != nil {
		checks["postgres"] = func(ctx context.Context) error { return rt.Pool.Ping(ctx) }
	}
	if rt.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases pools and clients.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	if rt.Redis != nil {
		if err := rt.Redis.Close(); err != nil {
			rt.Logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if rt.Pool != nil {
		rt.Pool.Close()
	}
}
