package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"

	"github.com/leadwatch/core/internal/config"
	"github.com/leadwatch/core/pkg/database"
	"github.com/leadwatch/core/pkg/database/pool"
	"github.com/leadwatch/core/pkg/jobs"
	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/notify"
	"github.com/leadwatch/core/pkg/repository"
	"github.com/leadwatch/core/pkg/repository/memory"
	"github.com/leadwatch/core/pkg/repository/postgres"
	"github.com/leadwatch/core/pkg/services"
)

// engine holds everything the commands share
type engine struct {
	cfg      *config.Config
	loc      *time.Location
	log      *logger.Logger
	jobs     repository.JobStore
	watches  repository.WatchStore
	entities repository.EntityStore
	notifier notify.Notifier
	// locks guards tick families across instances; nil with the memory store
	locks   *jobs.PostgreSQLLockManager
	closers []func()
}

func newEngine(ctx context.Context, kind string) (*engine, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	e := &engine{cfg: cfg, loc: loc, log: logger.New("leadwatch-cron")}

	switch kind {
	case storeMemory:
		store := memory.New()
		e.jobs, e.watches, e.entities = store, store, store
		e.log.Warn().Str("action", "memory_store").Msg("Using in-memory repository, nothing will be persisted")
	case storePostgres:
		if err := e.openPostgres(ctx); err != nil {
			e.Close()
			return nil, err
		}
	default:
		return nil, errors.Newf("unknown store %q (want postgres or memory)", kind)
	}

	if err := e.openNotifier(ctx); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) openPostgres(ctx context.Context) error {
	db, err := pool.New(ctx, e.cfg.DatabaseURL(), pool.DefaultConfig())
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	e.closers = append(e.closers, db.Close)

	store := postgres.New(db)
	e.jobs, e.watches, e.entities = store, store, store

	if !e.cfg.Scheduler.EnableLocking {
		return nil
	}
	url := e.cfg.DatabaseURL()
	e.locks = jobs.NewReconnectingLockManager(func(ctx context.Context) (database.DBTX, error) {
		return pgx.Connect(ctx, url)
	})
	e.closers = append(e.closers, e.locks.Close)
	return nil
}

func (e *engine) openNotifier(ctx context.Context) error {
	if e.cfg.Redis.URL == "" {
		e.notifier = notify.NewLogNotifier(logger.New("notifier"))
		e.log.Info().Str("action", "notifier_dry_run").Msg("REDIS_URL not set, notifications are logged only")
		return nil
	}

	rdb, err := notify.NewRedisClient(ctx, e.cfg.Redis.URL)
	if err != nil {
		return errors.Wrap(err, "failed to connect to redis")
	}
	e.closers = append(e.closers, func() { _ = rdb.Close() })
	e.notifier = notify.NewRedisNotifier(rdb, e.cfg.Notifier.Channel, e.cfg.Notifier.RatePerSec)
	return nil
}

func (e *engine) clientConfig(baseURL string) services.ClientConfig {
	return services.ClientConfig{
		BaseURL:        baseURL,
		APIKey:         e.cfg.External.APIKey,
		Timeout:        time.Duration(e.cfg.External.Timeout) * time.Second,
		RequestsPerSec: e.cfg.External.RequestsPerSec,
	}
}

func (e *engine) clock() jobs.Clock {
	return func() time.Time { return time.Now().In(e.loc) }
}

func (e *engine) batchExecutor() *jobs.BatchExecutor {
	return jobs.NewBatchExecutor(jobs.BatchExecutorConfig{
		Jobs:       e.jobs,
		Entities:   e.entities,
		Searcher:   services.NewSearchClient(e.clientConfig(e.cfg.External.SearchURL)),
		Analyzer:   services.NewAnalysisClient(e.clientConfig(e.cfg.External.AnalysisURL)),
		Clock:      e.clock(),
		Location:   e.loc,
		JobTimeout: e.cfg.Scheduler.JobTimeout,
		Logger:     logger.New("batch-executor"),
	})
}

func (e *engine) monitoringExecutor() *jobs.MonitoringExecutor {
	return jobs.NewMonitoringExecutor(jobs.MonitoringExecutorConfig{
		Watches:  e.watches,
		Entities: e.entities,
		Notifier: e.notifier,
		Clock:    e.clock(),
		Logger:   logger.New("monitoring-executor"),
	})
}

// Close releases connections in reverse order of opening
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}
