// Package app opens the stores and clients a vpsd process needs from a
// resolved configuration. Commands and the worker share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nathanbeddoewebdev/vpsd/internal/config"
	"nathanbeddoewebdev/vpsd/internal/database"
	"nathanbeddoewebdev/vpsd/internal/eventlog"
	"nathanbeddoewebdev/vpsd/internal/hypervisor"
	"nathanbeddoewebdev/vpsd/internal/hypervisor/hetzner"
	"nathanbeddoewebdev/vpsd/internal/lockstore"
	"nathanbeddoewebdev/vpsd/internal/logging"
	"nathanbeddoewebdev/vpsd/internal/queue"
	"nathanbeddoewebdev/vpsd/internal/services/auth"
	"nathanbeddoewebdev/vpsd/internal/services/lock"
	"nathanbeddoewebdev/vpsd/internal/stepstore"
	"nathanbeddoewebdev/vpsd/internal/taskstore"
	"nathanbeddoewebdev/vpsd/internal/usagestore"
)

// App bundles the opened stores.
type App struct {
	Config *config.Config
	Log    *zap.Logger

	Records *taskstore.SQLiteRepository
	Steps   *stepstore.SQLiteRepository
	Events  *eventlog.SQLiteRepository
	Usage   *usagestore.SQLiteRepository
	Locks   *lock.Service

	closers []func() error
}

// Open opens every store named by cfg. log may be nil.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	path, err := dbPath(cfg)
	if err != nil {
		return nil, err
	}

	if a.Records, err = taskstore.OpenAt(path); err != nil {
		return nil, a.fail(err)
	}
	a.closers = append(a.closers, a.Records.Close)

	if a.Steps, err = stepstore.OpenAt(path); err != nil {
		return nil, a.fail(err)
	}
	a.closers = append(a.closers, a.Steps.Close)

	if a.Events, err = eventlog.OpenAt(path); err != nil {
		return nil, a.fail(err)
	}
	a.closers = append(a.closers, a.Events.Close)

	if a.Usage, err = usagestore.OpenAt(path); err != nil {
		return nil, a.fail(err)
	}
	a.closers = append(a.closers, a.Usage.Close)

	repo, err := openLocks(ctx, cfg, path)
	if err != nil {
		return nil, a.fail(err)
	}
	ttl, err := cfg.LockTTL()
	if err != nil {
		repo.Close()
		return nil, a.fail(err)
	}
	a.Locks = lock.NewService(repo, lock.WithTTL(ttl))
	a.closers = append(a.closers, a.Locks.Close)

	log.Debug("stores opened",
		zap.String("database", path),
		zap.String("lock_backend", lockBackend(cfg)),
	)
	return a, nil
}

// Load resolves the configuration, builds the logger it describes and
// opens the stores.
func Load(ctx context.Context) (*App, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Encoding: cfg.Log.Encoding})
	if err != nil {
		return nil, err
	}

	a, err := Open(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, err
	}
	// Runs last on Close.
	a.closers = append([]func() error{func() error {
		_ = log.Sync()
		return nil
	}}, a.closers...)
	return a, nil
}

// Queue connects to the configured job queue.
func (a *App) Queue() (queue.Queue, error) {
	return queue.New(queue.Options{
		Backend: a.Config.Queue.Backend,
		Workers: a.Config.Queue.Workers,
		NATSURL: a.Config.Queue.NATSURL,
	})
}

func dbPath(cfg *config.Config) (string, error) {
	if cfg.Database.Path != "" {
		return cfg.Database.Path, nil
	}
	return database.DefaultPath()
}

func lockBackend(cfg *config.Config) string {
	if cfg.Locks.Backend == "" {
		return "sqlite"
	}
	return cfg.Locks.Backend
}

// openLocks returns the lock repository selected by cfg.Locks.Backend.
func openLocks(ctx context.Context, cfg *config.Config, sqlitePath string) (lockstore.Repository, error) {
	switch lockBackend(cfg) {
	case "sqlite":
		return lockstore.OpenSQLiteAt(sqlitePath)
	case "postgres":
		pool, err := database.OpenPostgres(ctx, cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return lockstore.NewPostgres(pool), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Locks.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("lockstore: redis unreachable at %s: %w", cfg.Locks.RedisAddr, err)
		}
		return lockstore.NewRedis(client, lockstore.DefaultRedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Locks.Backend)
	}
}

// Hypervisor builds the configured provider's client with credentials from
// store.
func (a *App) Hypervisor(store auth.Store) (hypervisor.TaskClient, error) {
	client, err := hypervisor.Get(a.Config.Hypervisor.Provider, store)
	if err != nil {
		return nil, err
	}
	if hc, ok := client.(*hetzner.Client); ok && a.Config.Hypervisor.RebuildImage != "" {
		hc.Configure(hetzner.WithRebuildImage(a.Config.Hypervisor.RebuildImage))
	}
	return client, nil
}

// Ping checks the record store.
func (a *App) Ping(ctx context.Context) error {
	_, err := a.Records.ListRecent(ctx, 1)
	return err
}

func (a *App) fail(err error) error {
	return errors.Join(err, a.Close())
}

// Close closes every opened store in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
