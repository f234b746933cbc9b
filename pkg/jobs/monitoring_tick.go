package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/repository"
)

// MonitoringTick is the cron job that checks due watches
type MonitoringTick struct {
	schedule   string
	watches    repository.WatchStore
	executor   *MonitoringExecutor
	clock      Clock
	batchSize  int
	staleAfter time.Duration
	logger     *logger.Logger
}

// MonitoringTickConfig configures the monitoring tick
type MonitoringTickConfig struct {
	Schedule  string
	Watches   repository.WatchStore
	Executor  *MonitoringExecutor
	Clock     Clock
	BatchSize int
	// StaleAfter deactivates watches without a successful check for this long; 0 disables
	StaleAfter time.Duration
}

func NewMonitoringTick(cfg MonitoringTickConfig) *MonitoringTick {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	return &MonitoringTick{
		schedule:   cfg.Schedule,
		watches:    cfg.Watches,
		executor:   cfg.Executor,
		clock:      cfg.Clock,
		batchSize:  cfg.BatchSize,
		staleAfter: cfg.StaleAfter,
		logger:     logger.New("monitoring-tick"),
	}
}

func (t *MonitoringTick) Name() string     { return "monitoring" }
func (t *MonitoringTick) Schedule() string { return t.schedule }

func (t *MonitoringTick) Execute(ctx context.Context) error {
	_, err := t.RunOnce(ctx)
	return err
}

// RunOnce checks every watch due now, one at a time
func (t *MonitoringTick) RunOnce(ctx context.Context) (TickSummary, error) {
	var summary TickSummary
	now := t.clock.now()

	if t.staleAfter > 0 {
		deactivated, err := t.watches.DeactivateStaleWatches(ctx, now.Add(-t.staleAfter))
		if err != nil {
			t.logger.Warn().Err(err).Str("action", "stale_sweep_failed").Msg("Failed to deactivate stale watches")
		} else if deactivated > 0 {
			summary.Recovered = deactivated
			t.logger.Info().
				Int64("count", deactivated).
				Str("action", "stale_watches_deactivated").
				Msg("Deactivated watches without a successful check")
		}
	}

	due, err := t.watches.ListDueWatches(ctx, now, t.batchSize)
	if err != nil {
		return summary, errors.Wrap(err, "list due watches")
	}
	summary.Due = len(due)

	events := 0
	for _, watch := range due {
		if ctx.Err() != nil {
			t.logger.Warn().Str("action", "tick_interrupted").Msg("Tick context ended, remaining watches stay due")
			break
		}

		result, err := t.executor.Check(ctx, watch)
		summary.Processed++
		if err != nil {
			summary.Failed++
			t.logger.Error().
				Err(err).
				Str("action", "watch_check_failed").
				Str("watch_id", watch.ID).
				Msg("Watch check failed")
			continue
		}
		events += len(result.Events)
	}

	t.logger.Info().
		Str("action", "monitoring_tick_complete").
		Int("due", summary.Due).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("events", events).
		Msg("Monitoring tick complete")

	return summary, nil
}
