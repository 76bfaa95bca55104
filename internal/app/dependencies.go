// Package app wires the infrastructure shared by the api and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/covasa/backoffice/internal/backend"
	"github.com/covasa/backoffice/internal/board"
	"github.com/covasa/backoffice/internal/catalog"
	"github.com/covasa/backoffice/internal/config"
	"github.com/covasa/backoffice/internal/health"
	"github.com/covasa/backoffice/internal/lock"
	"github.com/covasa/backoffice/internal/platform/db"
	"github.com/covasa/backoffice/internal/queue"
	"github.com/covasa/backoffice/internal/resilience"
)

// Dependencies enumerates the services both binaries build on.
type Dependencies struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Redis   *redis.Client
	DB      *pgxpool.Pool
	Breaker *resilience.Breaker
	Backend *backend.Client
	Catalog *catalog.Service
	Boards  *board.Service
	Queue   queue.Enqueuer
}

// Open connects to Redis, and to Postgres when the board store needs it, then
// builds the domain services. Close releases what Open acquired.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{Config: cfg, Logger: logger}

	rdb, err := OpenRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	d.Redis = rdb

	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			d.Close()
			return nil, err
		}
		pool, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.DB = pool
	}

	d.Breaker = resilience.NewBreaker(resilience.BreakerSettings{
		Target:      "backend",
		MinRequests: cfg.CircuitMinRequests,
		FailureRate: cfg.CircuitFailureRate,
		OpenFor:     cfg.CircuitOpenFor,
		Logger:      logger,
	})
	d.Backend = backend.New(backend.Options{
		BaseURL:     cfg.BackendBaseURL,
		Token:       cfg.BackendToken,
		Timeout:     cfg.BackendTimeout,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseBackoff: cfg.RetryBase,
		Jitter:      cfg.RetryJitterPercent,
		Breaker:     d.Breaker,
		Logger:      logger.With().Str("component", "backend").Logger(),
	})

	d.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Source: d.Backend,
		Cache:  catalog.NewCache(rdb, cfg.CatalogCacheTTL),
		Logger: logger.With().Str("component", "catalog").Logger(),
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	store, err := d.boardStore()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Boards, err = board.NewService(board.ServiceConfig{
		Store: store,
		Locker: lock.Locker{
			R:            rdb,
			Prefix:       cfg.QueueRedisPrefix,
			TTL:          cfg.LockTTL,
			RetryBackoff: cfg.LockRetryBackoff,
			MaxWait:      2 * cfg.LockTTL,
		},
		Logger: logger.With().Str("component", "board").Logger(),
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Queue = queue.Enqueuer{
		R:           rdb,
		Prefix:      cfg.QueueRedisPrefix,
		DedupTTL:    cfg.IdempotencyTTL,
		MaxAttempts: cfg.QueueMaxAttempts,
	}
	return d, nil
}

func (d *Dependencies) boardStore() (board.Store, error) {
	switch d.Config.BoardStore {
	case "postgres":
		if d.DB == nil {
			return nil, errors.New("app: postgres board store needs DATABASE_URL")
		}
		return board.PostgresStore{Pool: d.DB}, nil
	case "redis", "":
		return board.RedisStore{R: d.Redis, Prefix: d.Config.QueueRedisPrefix}, nil
	default:
		return nil, fmt.Errorf("app: unsupported board store %q", d.Config.BoardStore)
	}
}

// Probes returns the readiness probes for the connected dependencies. Redis
// and the database are critical; the backend is not, since cached catalog
// reads keep working while it is down.
func (d *Dependencies) Probes() []health.Probe {
	probes := []health.Probe{{
		Name:     "redis",
		Critical: true,
		Check:    func(ctx context.Context) error { return d.Redis.Ping(ctx).Err() },
	}}
	if d.DB != nil {
		probes = append(probes, health.Probe{Name: "db", Critical: true, Check: d.DB.Ping})
	}
	probes = append(probes, health.Probe{
		Name:    "backend",
		Timeout: d.Config.BackendTimeout,
		Check: func(ctx context.Context) error {
			if d.Breaker.State() == resilience.Open {
				return resilience.ErrOpenCircuit
			}
			return d.Backend.Ping(ctx)
		},
	})
	return probes
}

// Close releases connections. It is safe on a partially opened value.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
}

// OpenRedis parses url, instruments the client with OpenTelemetry and pings it.
func OpenRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis metrics")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	return client, nil
}
