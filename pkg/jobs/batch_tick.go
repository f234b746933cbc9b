package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/repository"
)

// TickSummary counts what one tick processed
type TickSummary struct {
	Due       int
	Processed int
	Failed    int
	Skipped   int
	// Recovered counts stale items closed or deactivated before the tick
	Recovered int64
}

// BatchJobsTick is the cron job that drains due scheduled jobs
type BatchJobsTick struct {
	schedule         string
	jobs             repository.JobStore
	executor         *BatchExecutor
	clock            Clock
	batchSize        int
	interruptedAfter time.Duration
	logger           *logger.Logger
}

// BatchJobsTickConfig configures the batch tick
type BatchJobsTickConfig struct {
	Schedule         string
	Jobs             repository.JobStore
	Executor         *BatchExecutor
	Clock            Clock
	BatchSize        int
	InterruptedAfter time.Duration
}

func NewBatchJobsTick(cfg BatchJobsTickConfig) *BatchJobsTick {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	return &BatchJobsTick{
		schedule:         cfg.Schedule,
		jobs:             cfg.Jobs,
		executor:         cfg.Executor,
		clock:            cfg.Clock,
		batchSize:        cfg.BatchSize,
		interruptedAfter: cfg.InterruptedAfter,
		logger:           logger.New("batch-jobs-tick"),
	}
}

func (t *BatchJobsTick) Name() string     { return "batch_jobs" }
func (t *BatchJobsTick) Schedule() string { return t.schedule }

func (t *BatchJobsTick) Execute(ctx context.Context) error {
	_, err := t.RunOnce(ctx)
	return err
}

// RunOnce processes every job due now, one at a time. A failing job never
// stops the ones after it.
func (t *BatchJobsTick) RunOnce(ctx context.Context) (TickSummary, error) {
	var summary TickSummary
	now := t.clock.now()

	if t.interruptedAfter > 0 {
		closed, err := t.jobs.FailInterruptedExecutions(ctx, now.Add(-t.interruptedAfter), now)
		if err != nil {
			t.logger.Warn().Err(err).Str("action", "interrupted_sweep_failed").Msg("Failed to close interrupted executions")
		} else if closed > 0 {
			summary.Recovered = closed
			t.logger.Warn().
				Int64("count", closed).
				Str("action", "interrupted_executions_closed").
				Msg("Closed executions left running by a previous process")
		}
	}

	due, err := t.jobs.ListDueJobs(ctx, now, t.batchSize)
	if err != nil {
		return summary, errors.Wrap(err, "list due jobs")
	}
	summary.Due = len(due)

	for _, job := range due {
		if ctx.Err() != nil {
			t.logger.Warn().
				Int("remaining", summary.Due-summary.Processed-summary.Skipped).
				Str("action", "tick_interrupted").
				Msg("Tick context ended, remaining jobs stay due")
			break
		}

		exec, err := t.runJob(ctx, job)
		switch {
		case exec == nil && err == nil:
			summary.Skipped++
			continue
		case err != nil:
			summary.Failed++
			t.logger.Error().
				Err(err).
				Str("action", "scheduled_job_failed").
				Str("scheduled_job_id", job.ID).
				Msg("Scheduled job failed")
		}
		summary.Processed++
	}

	t.logger.Info().
		Str("action", "batch_tick_complete").
		Int("due", summary.Due).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Batch jobs tick complete")

	return summary, nil
}

// runJob isolates the tick from a panic escaping the executor
func (t *BatchJobsTick) runJob(ctx context.Context, job models.ScheduledJob) (exec *models.JobExecution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic while running job %s: %v", job.ID, r)
		}
	}()
	return t.executor.Run(ctx, job)
}
