// Package bootstrap wires configuration into a running engine: logger,
// primary store, optional Redis cache and lock, and metrics.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/foresight/market-engine/internal/config"
	"github.com/foresight/market-engine/internal/engine"
	"github.com/foresight/market-engine/internal/lock"
	"github.com/foresight/market-engine/internal/metrics"
	"github.com/foresight/market-engine/internal/store"
)

// App is a wired engine plus the resources it holds.
type App struct {
	Engine  *engine.Engine
	Store   store.Store
	Logger  *slog.Logger
	cleanup []func()
}

// Close releases the store and Redis connections in reverse order.
func (a *App) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Open connects the configured backends and builds the engine. On error
// anything already opened is closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	app = &App{Logger: logger}
	defer func() {
		if err != nil {
			app.Close()
			app = nil
		}
	}()

	st, err := app.openPrimary(ctx, cfg)
	if err != nil {
		return nil, err
	}

	locker := lock.Locker(lock.NewLocal())
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.cleanup = append(app.cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration)
		logger.Info("Redis cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL.String())

		if cfg.Redis.Lock {
			locker = lock.NewRedis(rdb, cfg.Redis.LockTTL.Duration, cfg.Redis.LockWait.Duration)
			logger.Info("Redis market lock enabled")
		}
	}

	app.Store = st
	app.Engine = engine.New(st, cfg.EngineSettings(),
		engine.WithLocker(locker),
		engine.WithLogger(logger),
		engine.WithRecorder(metrics.Recorder{}),
		engine.WithPositionLimits(cfg.PositionLimits()),
	)
	return app, nil
}

func (a *App) openPrimary(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres":
		pcfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse database dsn: %w", err)
		}
		pcfg.MaxConns = int32(cfg.Database.MaxConns)
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		a.cleanup = append(a.cleanup, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("database ping: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if cfg.Database.RunMigrations {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		a.Logger.Info("connected to PostgreSQL")
		return pg, nil

	case "sqlite":
		sq, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Database.Path, err)
		}
		a.cleanup = append(a.cleanup, func() { sq.Close() })
		a.Logger.Info("opened SQLite store", "path", cfg.Database.Path)
		return sq, nil

	case "memory":
		a.Logger.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
