// Package repository defines the persistence contracts of the scheduling
// and monitoring engine. Implementations live in the postgres and memory
// subpackages.
package repository

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/models"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// JobStore persists scheduled jobs and their executions.
// FinishExecution and AdvanceJob apply the final transition of one run as a
// single unit: an observer never sees a closed execution with a stale
// next_run_at or the reverse.
type JobStore interface {
	// ListDueJobs returns active jobs with next_run_at <= now and no running
	// execution, oldest first
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error)
	GetJob(ctx context.Context, id string) (*models.ScheduledJob, error)
	HasRunningExecution(ctx context.Context, jobID string) (bool, error)
	CreateExecution(ctx context.Context, exec *models.JobExecution) error
	// FinishExecution writes the closed execution and the job bookkeeping together
	FinishExecution(ctx context.Context, exec *models.JobExecution, run models.JobRunUpdate) error
	// AdvanceJob moves next_run_at when no execution row could be written
	AdvanceJob(ctx context.Context, jobID string, lastRunAt, nextRunAt time.Time) error
	// FailInterruptedExecutions closes executions stuck in running since before startedBefore
	FailInterruptedExecutions(ctx context.Context, startedBefore, now time.Time) (int64, error)
	ListExecutions(ctx context.Context, jobID string, limit int) ([]models.JobExecution, error)
}

// WatchStore persists monitoring watches and their trigger history
type WatchStore interface {
	// ListDueWatches returns active watches with next_check_date <= now, oldest first
	ListDueWatches(ctx context.Context, now time.Time, limit int) ([]models.MonitoringWatch, error)
	GetWatch(ctx context.Context, id string) (*models.MonitoringWatch, error)
	// RecordCheck appends events and updates the watch's check fields in one
	// unit; it never changes is_active
	RecordCheck(ctx context.Context, watch *models.MonitoringWatch, events []models.TriggerEvent) error
	// DeactivateStaleWatches switches off watches not successfully checked since cutoff
	DeactivateStaleWatches(ctx context.Context, cutoff time.Time) (int64, error)
	ListTriggerEvents(ctx context.Context, monitoringID string, limit int) ([]models.TriggerEvent, error)
}

// EntityStore reads and writes the leads the batch and monitoring phases act on
type EntityStore interface {
	Get(ctx context.Context, id string) (*models.Entity, error)
	ExistsByNaturalKey(ctx context.Context, tenantID, key string) (bool, error)
	// CreatePending stores a search hit that has not been analyzed yet
	CreatePending(ctx context.Context, tenantID, key string, candidate models.Candidate) (string, error)
	// ListForAnalysis returns never-analyzed entities and those analyzed before staleBefore
	ListForAnalysis(ctx context.Context, tenantID string, staleBefore time.Time, limit int) ([]models.Entity, error)
	AssignToList(ctx context.Context, entityID, listID string) error
}
