package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/leadwatch/core/pkg/logger"
)

// ManagerConfig holds configuration for the cron job manager
type ManagerConfig struct {
	// Location is the timezone cron specs are evaluated in
	Location *time.Location
	// JobTimeout bounds a single tick
	JobTimeout time.Duration
	// LockManager enables cross-instance locking when set
	LockManager JobLockManager
	// LockConfig configures the lock wrapper; nil uses the defaults
	LockConfig *LockedJobConfig
}

// DefaultManagerConfig runs in UTC without distributed locking
func DefaultManagerConfig() *ManagerConfig {
	return &ManagerConfig{
		Location:   time.UTC,
		JobTimeout: 30 * time.Minute,
	}
}

type cronJobManager struct {
	cron        *cron.Cron
	jobs        []Job
	logger      *logger.Logger
	jobTimeout  time.Duration
	lockManager JobLockManager
	lockConfig  *LockedJobConfig
}

// NewJobManager creates a job manager. Every registered job is wrapped so a
// tick still running when the next one is due is skipped, and panics are
// recovered.
func NewJobManager(config *ManagerConfig) JobManager {
	if config == nil {
		config = DefaultManagerConfig()
	}
	loc := config.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := config.JobTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	log := logger.New("job-manager")
	cronLog := cronLogger{log: log}

	return &cronJobManager{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:        make([]Job, 0),
		logger:      log,
		jobTimeout:  timeout,
		lockManager: config.LockManager,
		lockConfig:  config.LockConfig,
	}
}

func (m *cronJobManager) RegisterJob(job Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	finalJob := job
	if m.lockManager != nil {
		if _, isLocked := job.(*LockedJob); !isLocked {
			finalJob = NewLockedJob(job, m.lockManager, m.lockConfig)
		}
	}

	m.logger.Info().
		Str("action", "register_job").
		Str("job_name", finalJob.Name()).
		Str("schedule", finalJob.Schedule()).
		Bool("locking_enabled", m.lockManager != nil).
		Msg("Registering job")

	_, err := m.cron.AddJob(finalJob.Schedule(), cron.FuncJob(func() {
		m.runOnce(finalJob)
	}))
	if err != nil {
		return errors.Wrapf(err, "failed to schedule job %s", finalJob.Name())
	}

	m.jobs = append(m.jobs, finalJob)
	return nil
}

func (m *cronJobManager) runOnce(job Job) {
	requestID := uuid.New().String()
	jobLogger := m.logger.WithRequestID(requestID).WithJob(job.Name())

	ctx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
	defer cancel()
	ctx = jobLogger.ToContext(ctx)

	jobLogger.LogJobStart(job.Name(), job.Schedule())
	start := time.Now()

	if err := job.Execute(ctx); err != nil {
		jobLogger.Error().
			Err(err).
			Str("action", "job_failed").
			Dur("duration", time.Since(start)).
			Msg("Job execution failed")
		return
	}
	jobLogger.LogJobComplete(job.Name(), time.Since(start), 0, 0)
}

func (m *cronJobManager) Start() {
	m.logger.Info().
		Str("action", "start").
		Int("job_count", len(m.jobs)).
		Msg("Starting job manager")
	m.cron.Start()
}

func (m *cronJobManager) Stop() {
	m.logger.Info().
		Str("action", "stop_initiated").
		Msg("Stopping job manager")

	ctx := m.cron.Stop()
	<-ctx.Done()

	m.logger.Info().
		Str("action", "stopped").
		Msg("Job manager stopped")
}

func (m *cronJobManager) GetJobs() []Job {
	return append([]Job(nil), m.jobs...)
}

// cronLogger adapts the zerolog wrapper to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug().Str("action", "cron").Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error().Err(err).Str("action", "cron").Fields(keysAndValues).Msg(msg)
}
