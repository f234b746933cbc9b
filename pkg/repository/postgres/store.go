// Package postgres implements the repository contracts on pgx.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leadwatch/core/pkg/database"
	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/repository"
)

// Store is the Postgres-backed job, watch and entity repository
type Store struct {
	db     database.TxBeginner
	logger *logger.Logger
}

// New creates a store on top of a pool or connection
func New(db database.TxBeginner) *Store {
	return &Store{
		db:     db,
		logger: logger.New("postgres-store"),
	}
}

var (
	_ repository.JobStore    = (*Store)(nil)
	_ repository.WatchStore  = (*Store)(nil)
	_ repository.EntityStore = (*Store)(nil)
)

const jobColumns = `id, tenant_id, name, job_type, schedule_time, schedule_days, is_active,
	next_run_at, last_run_at, search_query, analysis_protocol, analysis_provider,
	max_results, auto_assign_list_id, stale_after_days, total_runs, total_leads_found,
	total_leads_analyzed, total_leads_created, created_at, updated_at`

// rowDecodeError marks a row that scanned but whose JSON columns did not decode
type rowDecodeError struct {
	id  string
	err error
}

func (e *rowDecodeError) Error() string { return e.err.Error() }
func (e *rowDecodeError) Unwrap() error { return e.err }

// ListDueJobs returns active jobs whose slot has passed and that have no
// execution in flight, oldest slot first. Rows with an undecodable payload
// are deactivated and left out.
func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM scheduled_jobs j
		 WHERE is_active = true AND next_run_at <= $1
		   AND NOT EXISTS (SELECT 1 FROM job_executions e WHERE e.job_id = j.id AND e.status = 'running')
		 ORDER BY next_run_at ASC, id ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query due scheduled jobs")
	}

	var (
		jobs    []models.ScheduledJob
		corrupt []string
	)
	for rows.Next() {
		job, err := scanJob(rows)
		var decodeErr *rowDecodeError
		if errors.As(err, &decodeErr) {
			s.logger.Error().Err(err).Str("action", "corrupt_job_row").Str("scheduled_job_id", decodeErr.id).
				Msg("Skipping scheduled job with undecodable payload")
			corrupt = append(corrupt, decodeErr.id)
			continue
		}
		if err != nil {
			rows.Close()
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate due scheduled jobs")
	}

	s.quarantine(ctx, "scheduled_jobs", corrupt)
	s.logger.LogDatabaseOperation("select", "scheduled_jobs", len(jobs), time.Since(start), nil)
	return jobs, nil
}

// quarantine deactivates rows that can never be processed so they stop
// occupying batch slots. Failure only costs a retry on the next tick.
func (s *Store) quarantine(ctx context.Context, table string, ids []string) {
	if len(ids) == 0 {
		return
	}
	if _, err := s.db.Exec(ctx, `UPDATE `+table+` SET is_active = false WHERE id = ANY($1)`, ids); err != nil {
		s.logger.Error().Err(err).Str("action", "quarantine_failed").Str("table", table).Strs("ids", ids).
			Msg("Failed to deactivate undecodable rows")
		return
	}
	s.logger.Warn().Str("action", "rows_quarantined").Str("table", table).Strs("ids", ids).
		Msg("Deactivated rows with undecodable payload")
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(repository.ErrNotFound, "scheduled job %s", id)
	}
	return job, err
}

func (s *Store) HasRunningExecution(ctx context.Context, jobID string) (bool, error) {
	var running bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_executions WHERE job_id = $1 AND status = 'running')`,
		jobID,
	).Scan(&running)
	if err != nil {
		return false, errors.Wrapf(err, "check running execution for job %s", jobID)
	}
	return running, nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *models.JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	logJSON, err := json.Marshal(nonNilLog(exec.ExecutionLog))
	if err != nil {
		return errors.Wrap(err, "marshal execution log")
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO job_executions (id, job_id, status, execution_log, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.JobID, string(exec.Status), logJSON, exec.StartedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert execution for job %s", exec.JobID)
	}
	return nil
}

func (s *Store) FinishExecution(ctx context.Context, exec *models.JobExecution, run models.JobRunUpdate) error {
	logJSON, err := json.Marshal(nonNilLog(exec.ExecutionLog))
	if err != nil {
		return errors.Wrap(err, "marshal execution log")
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE job_executions
			 SET status = $2, leads_found = $3, leads_analyzed = $4, leads_created = $5,
			     leads_skipped = $6, execution_log = $7, error_message = $8, completed_at = $9
			 WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
			exec.ID, string(exec.Status), exec.LeadsFound, exec.LeadsAnalyzed, exec.LeadsCreated,
			exec.LeadsSkipped, logJSON, exec.ErrorMessage, exec.CompletedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "close execution %s", exec.ID)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(models.ErrExecutionClosed, "execution %s", exec.ID)
		}

		return advanceJob(ctx, tx, run)
	})
}

func (s *Store) AdvanceJob(ctx context.Context, jobID string, lastRunAt, nextRunAt time.Time) error {
	return advanceJob(ctx, s.db, models.JobRunUpdate{JobID: jobID, LastRunAt: lastRunAt, NextRunAt: nextRunAt})
}

func advanceJob(ctx context.Context, db database.DBTX, run models.JobRunUpdate) error {
	tag, err := db.Exec(ctx,
		`UPDATE scheduled_jobs
		 SET last_run_at = $2, next_run_at = $3, total_runs = total_runs + 1,
		     total_leads_found = total_leads_found + $4,
		     total_leads_analyzed = total_leads_analyzed + $5,
		     total_leads_created = total_leads_created + $6,
		     updated_at = $2
		 WHERE id = $1`,
		run.JobID, run.LastRunAt, run.NextRunAt, run.LeadsFound, run.LeadsAnalyzed, run.LeadsCreated,
	)
	if err != nil {
		return errors.Wrapf(err, "advance scheduled job %s", run.JobID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(repository.ErrNotFound, "scheduled job %s", run.JobID)
	}
	return nil
}

func (s *Store) FailInterruptedExecutions(ctx context.Context, startedBefore, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE job_executions
		 SET status = 'failed', error_message = 'execution interrupted before completion', completed_at = $2
		 WHERE status = 'running' AND started_at < $1`,
		startedBefore, now,
	)
	if err != nil {
		return 0, errors.Wrap(err, "fail interrupted executions")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListExecutions(ctx context.Context, jobID string, limit int) ([]models.JobExecution, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, job_id, status, leads_found, leads_analyzed, leads_created, leads_skipped,
		        execution_log, error_message, started_at, completed_at
		 FROM job_executions
		 WHERE job_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		jobID, limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "query executions for job %s", jobID)
	}
	defer rows.Close()

	var out []models.JobExecution
	for rows.Next() {
		var (
			e       models.JobExecution
			status  string
			logJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.JobID, &status, &e.LeadsFound, &e.LeadsAnalyzed, &e.LeadsCreated,
			&e.LeadsSkipped, &logJSON, &e.ErrorMessage, &e.StartedAt, &e.CompletedAt); err != nil {
			return nil, errors.Wrap(err, "scan execution")
		}
		e.Status = models.ExecutionStatus(status)
		if err := json.Unmarshal(logJSON, &e.ExecutionLog); err != nil {
			return nil, errors.Wrapf(err, "decode execution log of %s", e.ID)
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "iterate executions")
}

const watchColumns = `id, tenant_id, entity_id, interval_days, next_check_date, last_check_date,
	last_seen_at, check_count, notification_email, trigger_config, is_active, baseline, created_at`

func (s *Store) ListDueWatches(ctx context.Context, now time.Time, limit int) ([]models.MonitoringWatch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+watchColumns+`
		 FROM monitoring_watches
		 WHERE is_active = true AND next_check_date <= $1
		 ORDER BY next_check_date ASC, id ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query due monitoring watches")
	}

	var (
		watches []models.MonitoringWatch
		corrupt []string
	)
	for rows.Next() {
		w, err := scanWatch(rows)
		var decodeErr *rowDecodeError
		if errors.As(err, &decodeErr) {
			s.logger.Error().Err(err).Str("action", "corrupt_watch_row").Str("watch_id", decodeErr.id).
				Msg("Skipping monitoring watch with undecodable payload")
			corrupt = append(corrupt, decodeErr.id)
			continue
		}
		if err != nil {
			rows.Close()
			return nil, err
		}
		watches = append(watches, *w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate due monitoring watches")
	}

	s.quarantine(ctx, "monitoring_watches", corrupt)
	return watches, nil
}

func (s *Store) GetWatch(ctx context.Context, id string) (*models.MonitoringWatch, error) {
	w, err := scanWatch(s.db.QueryRow(ctx, `SELECT `+watchColumns+` FROM monitoring_watches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(repository.ErrNotFound, "monitoring watch %s", id)
	}
	return w, err
}

func (s *Store) RecordCheck(ctx context.Context, watch *models.MonitoringWatch, events []models.TriggerEvent) error {
	baseline, err := json.Marshal(watch.Baseline)
	if err != nil {
		return errors.Wrap(err, "marshal watch baseline")
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for i := range events {
			ev := &events[i]
			if ev.ID == "" {
				ev.ID = uuid.New().String()
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO trigger_events (id, monitoring_id, entity_id, trigger_type, old_value, new_value,
				                             change_percentage, severity, message, detected_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				ev.ID, ev.MonitoringID, ev.EntityID, ev.TriggerType, ev.OldValue, ev.NewValue,
				ev.ChangePercentage, string(ev.Severity), ev.Message, ev.DetectedAt,
			); err != nil {
				return errors.Wrapf(err, "insert trigger event %s", ev.TriggerType)
			}
		}

		tag, err := tx.Exec(ctx,
			`UPDATE monitoring_watches
			 SET last_check_date = $2, next_check_date = $3, check_count = $4,
			     last_seen_at = $5, baseline = $6
			 WHERE id = $1`,
			watch.ID, watch.LastCheckDate, watch.NextCheckDate, watch.CheckCount,
			watch.LastSeenAt, baseline,
		)
		if err != nil {
			return errors.Wrapf(err, "update monitoring watch %s", watch.ID)
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(repository.ErrNotFound, "monitoring watch %s", watch.ID)
		}
		return nil
	})
}

func (s *Store) DeactivateStaleWatches(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE monitoring_watches
		 SET is_active = false
		 WHERE is_active = true AND COALESCE(last_seen_at, created_at) < $1`,
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "deactivate stale watches")
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListTriggerEvents(ctx context.Context, monitoringID string, limit int) ([]models.TriggerEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, monitoring_id, entity_id, trigger_type, old_value, new_value,
		        change_percentage, severity, message, detected_at
		 FROM trigger_events
		 WHERE monitoring_id = $1
		 ORDER BY detected_at DESC
		 LIMIT $2`,
		monitoringID, limit,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "query trigger events for watch %s", monitoringID)
	}
	defer rows.Close()

	var out []models.TriggerEvent
	for rows.Next() {
		var (
			ev       models.TriggerEvent
			severity string
		)
		if err := rows.Scan(&ev.ID, &ev.MonitoringID, &ev.EntityID, &ev.TriggerType, &ev.OldValue,
			&ev.NewValue, &ev.ChangePercentage, &severity, &ev.Message, &ev.DetectedAt); err != nil {
			return nil, errors.Wrap(err, "scan trigger event")
		}
		ev.Severity = models.Severity(severity)
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "iterate trigger events")
}

func scanJob(row pgx.Row) (*models.ScheduledJob, error) {
	var (
		j            models.ScheduledJob
		jobType      string
		days         string
		queryJSON    []byte
		autoAssignID *string
	)
	err := row.Scan(&j.ID, &j.TenantID, &j.Name, &jobType, &j.ScheduleTime, &days, &j.IsActive,
		&j.NextRunAt, &j.LastRunAt, &queryJSON, &j.AnalysisProtocol, &j.AnalysisProvider,
		&j.MaxResults, &autoAssignID, &j.StaleAfterDays, &j.TotalRuns, &j.TotalLeadsFound,
		&j.TotalLeadsAnalyzed, &j.TotalLeadsCreated, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan scheduled job")
	}

	j.JobType = models.JobType(jobType)
	j.ScheduleDays = models.ScheduleDays(days)
	if autoAssignID != nil {
		j.AutoAssignListID = *autoAssignID
	}
	if len(queryJSON) > 0 {
		if err := json.Unmarshal(queryJSON, &j.SearchQuery); err != nil {
			return nil, &rowDecodeError{id: j.ID, err: errors.Wrapf(err, "decode search query of job %s", j.ID)}
		}
	}
	return &j, nil
}

func scanWatch(row pgx.Row) (*models.MonitoringWatch, error) {
	var (
		w            models.MonitoringWatch
		configJSON   []byte
		baselineJSON []byte
	)
	err := row.Scan(&w.ID, &w.TenantID, &w.EntityID, &w.IntervalDays, &w.NextCheckDate, &w.LastCheckDate,
		&w.LastSeenAt, &w.CheckCount, &w.NotificationEmail, &configJSON, &w.IsActive, &baselineJSON, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "scan monitoring watch")
	}

	w.TriggerConfig = models.DefaultTriggerConfig()
	if len(configJSON) > 0 && string(configJSON) != "{}" {
		if err := json.Unmarshal(configJSON, &w.TriggerConfig); err != nil {
			return nil, &rowDecodeError{id: w.ID, err: errors.Wrapf(err, "decode trigger config of watch %s", w.ID)}
		}
	}
	if len(baselineJSON) > 0 {
		if err := json.Unmarshal(baselineJSON, &w.Baseline); err != nil {
			return nil, &rowDecodeError{id: w.ID, err: errors.Wrapf(err, "decode baseline of watch %s", w.ID)}
		}
	}
	return &w, nil
}

func nonNilLog(entries []models.LogEntry) []models.LogEntry {
	if entries == nil {
		return []models.LogEntry{}
	}
	return entries
}
