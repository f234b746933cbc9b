package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/logger"
)

// LockedJob runs a job only while holding its distributed lock, so two
// scheduler instances never tick the same family at once
type LockedJob struct {
	job         Job
	lockManager JobLockManager
	logger      *logger.Logger

	lockTimeout  time.Duration
	skipIfLocked bool
}

// LockedJobConfig holds configuration for the lock wrapper
type LockedJobConfig struct {
	LockTimeout  time.Duration // How long to wait for lock acquisition; 0 tries once
	SkipIfLocked bool          // Skip execution if lock can't be acquired
}

// DefaultLockedJobConfig tries once and skips when another instance holds the lock;
// the next tick picks up whatever is still due
func DefaultLockedJobConfig() *LockedJobConfig {
	return &LockedJobConfig{
		LockTimeout:  0,
		SkipIfLocked: true,
	}
}

func NewLockedJob(job Job, lockManager JobLockManager, config *LockedJobConfig) *LockedJob {
	if config == nil {
		config = DefaultLockedJobConfig()
	}

	return &LockedJob{
		job:          job,
		lockManager:  lockManager,
		logger:       logger.New("locked-job"),
		lockTimeout:  config.LockTimeout,
		skipIfLocked: config.SkipIfLocked,
	}
}

func (p *LockedJob) Name() string {
	return p.job.Name()
}

func (p *LockedJob) Schedule() string {
	return p.job.Schedule()
}

// Execute acquires the lock, runs the wrapped job and releases the lock
func (p *LockedJob) Execute(ctx context.Context) error {
	jobName := p.job.Name()
	guard := NewLockGuard(p.lockManager, jobName)

	var (
		acquired bool
		err      error
	)
	if p.lockTimeout > 0 {
		acquired, err = guard.AcquireWithTimeout(ctx, p.lockTimeout)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			acquired, err = false, nil
		}
	} else {
		acquired, err = guard.Acquire(ctx)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to acquire lock for job %s", jobName)
	}

	if !acquired {
		if !p.skipIfLocked {
			return errors.Newf("could not acquire lock for job %s", jobName)
		}
		p.logger.Info().
			Str("job_name", jobName).
			Str("action", "job_skipped_locked").
			Msg("Job skipped - another instance is running")
		return nil
	}

	defer func() {
		// release even when the tick context has expired
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if releaseErr := guard.Release(releaseCtx); releaseErr != nil {
			p.logger.Error().
				Err(releaseErr).
				Str("job_name", jobName).
				Str("action", "lock_release_error").
				Msg("Failed to release distributed lock")
		}
	}()

	return p.job.Execute(ctx)
}
