package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/repository"
	"github.com/leadwatch/core/pkg/schedule"
	"github.com/leadwatch/core/pkg/services"
	"github.com/leadwatch/core/pkg/utils"
)

const (
	defaultMaxResults     = 50
	defaultStaleAfterDays = 90
	// finalWriteTimeout bounds the closing writes, which run even after the job context expired
	finalWriteTimeout = 30 * time.Second
)

// BatchExecutorConfig wires the collaborators of a batch run
type BatchExecutorConfig struct {
	Jobs     repository.JobStore
	Entities repository.EntityStore
	Searcher services.Searcher
	Analyzer services.Analyzer
	Clock    Clock
	// Location is the reference timezone for next-run computation
	Location *time.Location
	// JobTimeout bounds one execution; 0 means no limit beyond the caller's context
	JobTimeout time.Duration
	Logger     *logger.Logger
}

// BatchExecutor runs one scheduled job end to end and always leaves its
// execution closed and its schedule advanced
type BatchExecutor struct {
	jobs       repository.JobStore
	entities   repository.EntityStore
	searcher   services.Searcher
	analyzer   services.Analyzer
	clock      Clock
	location   *time.Location
	jobTimeout time.Duration
	logger     *logger.Logger
}

func NewBatchExecutor(cfg BatchExecutorConfig) *BatchExecutor {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("batch-executor")
	}
	return &BatchExecutor{
		jobs:       cfg.Jobs,
		entities:   cfg.Entities,
		searcher:   cfg.Searcher,
		analyzer:   cfg.Analyzer,
		clock:      cfg.Clock,
		location:   loc,
		jobTimeout: cfg.JobTimeout,
		logger:     log,
	}
}

// Run executes job once. It returns the closed execution, or nil when the job
// was skipped because an execution of it is already running. A non-nil error
// together with a failed execution means the run failed but was recorded.
func (e *BatchExecutor) Run(ctx context.Context, job models.ScheduledJob) (*models.JobExecution, error) {
	// a started run is bounded by the job timeout, not by what is left of the tick
	ctx = context.WithoutCancel(ctx)

	running, err := e.jobs.HasRunningExecution(ctx, job.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "check running execution of job %s", job.ID)
	}
	if running {
		e.logger.Warn().
			Str("action", "job_skipped_running").
			Str("scheduled_job_id", job.ID).
			Msg("Job already has a running execution, skipping")
		return nil, nil
	}

	startedAt := e.clock.now()
	exec := &models.JobExecution{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Status:    models.ExecutionStatusPending,
		StartedAt: startedAt,
	}
	if err := exec.Transition(models.ExecutionStatusRunning); err != nil {
		return nil, err
	}

	log := e.logger.WithExecution(job.ID, exec.ID)

	if err := e.jobs.CreateExecution(ctx, exec); err != nil {
		// no row to close; still move the schedule so the job is not retried every tick
		if advErr := e.jobs.AdvanceJob(ctx, job.ID, startedAt, e.nextRun(job, startedAt, log)); advErr != nil {
			log.Error().Err(advErr).Str("action", "advance_job_failed").Msg("Failed to advance job after create failure")
		}
		return nil, errors.Wrapf(err, "create execution for job %s", job.ID)
	}

	log.Info().
		Str("action", "execution_start").
		Str("job_type", string(job.JobType)).
		Str("job_name", job.Name).
		Msg("Batch execution started")

	runErr := e.runPhases(ctx, job, exec)

	finishedAt := e.clock.now()
	if runErr == nil {
		err = exec.Complete(finishedAt)
	} else {
		err = exec.Fail(finishedAt, runErr)
	}
	if err != nil {
		return exec, err
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	update := models.JobRunUpdate{
		JobID:         job.ID,
		LastRunAt:     finishedAt,
		NextRunAt:     e.nextRun(job, finishedAt, log),
		LeadsFound:    exec.LeadsFound,
		LeadsAnalyzed: exec.LeadsAnalyzed,
		LeadsCreated:  exec.LeadsCreated,
	}
	if err := e.jobs.FinishExecution(writeCtx, exec, update); err != nil {
		log.Error().Err(err).Str("action", "finish_execution_failed").Msg("Failed to record execution result")
		if advErr := e.jobs.AdvanceJob(writeCtx, job.ID, update.LastRunAt, update.NextRunAt); advErr != nil {
			log.Error().Err(advErr).Str("action", "advance_job_failed").Msg("Failed to advance job")
		}
		return exec, errors.Wrapf(err, "finish execution %s", exec.ID)
	}

	log.Info().
		Str("action", "execution_finished").
		Str("status", string(exec.Status)).
		Int("leads_found", exec.LeadsFound).
		Int("leads_analyzed", exec.LeadsAnalyzed).
		Int("leads_created", exec.LeadsCreated).
		Int("leads_skipped", exec.LeadsSkipped).
		Time("next_run_at", update.NextRunAt).
		Dur("duration", finishedAt.Sub(startedAt)).
		Msg("Batch execution finished")

	return exec, runErr
}

// nextRun computes the following slot in the reference timezone. A job whose
// schedule time cannot be parsed is pushed out by one day instead of looping.
func (e *BatchExecutor) nextRun(job models.ScheduledJob, now time.Time, log *logger.Logger) time.Time {
	next, err := schedule.NextRun(job.ScheduleTime, job.ScheduleDays, now.In(e.location))
	if err != nil {
		log.Error().Err(err).Str("action", "invalid_schedule").Msg("Falling back to a one day delay")
		return now.Add(24 * time.Hour)
	}
	return next
}

// runPhases converts a panic into an error so the execution is still closed
func (e *BatchExecutor) runPhases(ctx context.Context, job models.ScheduledJob, exec *models.JobExecution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic during execution: %v", r)
			exec.Log(e.entry("panic", models.StepFailed, err.Error(), "", nil))
		}
	}()

	if e.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.jobTimeout)
		defer cancel()
	}

	switch {
	case job.RunsSearch():
		return e.searchPhase(ctx, job, exec)
	case job.JobType == models.JobTypeAnalysis:
		return e.analysisPhase(ctx, job, exec)
	default:
		return errors.Newf("unknown job type %q", job.JobType)
	}
}

func (e *BatchExecutor) searchPhase(ctx context.Context, job models.ScheduledJob, exec *models.JobExecution) error {
	candidates, err := e.searcher.Search(ctx, services.SearchRequest{
		TenantID:   job.TenantID,
		Query:      job.SearchQuery.Query,
		Filters:    job.SearchQuery.Filters,
		MaxResults: maxResults(job),
	})
	if err != nil {
		exec.Log(e.entry("search", models.StepFailed, err.Error(), "", nil))
		return errors.Wrap(err, "search phase")
	}

	exec.LeadsFound = len(candidates)
	exec.Log(e.entry("search", models.StepOK, fmt.Sprintf("%d candidates found", len(candidates)), "",
		map[string]int{"found": len(candidates)}))

	seen := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			exec.Log(e.entry("search", models.StepFailed, "execution deadline reached", "", nil))
			return errors.Wrap(err, "search phase interrupted")
		}
		e.processCandidate(ctx, job, exec, candidates[i], seen)
	}

	exec.Log(e.entry("summary", models.StepOK, "", "", map[string]int{
		"found":    exec.LeadsFound,
		"analyzed": exec.LeadsAnalyzed,
		"created":  exec.LeadsCreated,
		"skipped":  exec.LeadsSkipped,
	}))
	return nil
}

// processCandidate handles one search hit; failures stay in the execution log
func (e *BatchExecutor) processCandidate(ctx context.Context, job models.ScheduledJob, exec *models.JobExecution,
	candidate models.Candidate, seen map[string]struct{}) {
	key := utils.NaturalKey(candidate)
	if key == "" {
		exec.LeadsSkipped++
		exec.Log(e.entry("dedup", models.StepSkipped, "candidate has neither org number nor name", "", nil))
		return
	}
	if _, dup := seen[key]; dup {
		exec.LeadsSkipped++
		exec.Log(e.entry("dedup", models.StepSkipped, "duplicate within search results", key, nil))
		return
	}
	seen[key] = struct{}{}

	exists, err := e.entities.ExistsByNaturalKey(ctx, job.TenantID, key)
	if err != nil {
		exec.Log(e.entry("dedup", models.StepFailed, err.Error(), key, nil))
		return
	}
	if exists {
		exec.LeadsSkipped++
		exec.Log(e.entry("dedup", models.StepSkipped, "already stored", key, nil))
		return
	}

	// the lead is stored under our key first so the next run's dedup sees it
	// whatever the analysis does
	entityID, err := e.entities.CreatePending(ctx, job.TenantID, key, candidate)
	if err != nil {
		exec.Log(e.entry("create", models.StepFailed, err.Error(), key, nil))
		return
	}

	if job.JobType == models.JobTypeSearch {
		exec.LeadsCreated++
		exec.Log(e.entry("create", models.StepOK, candidate.Name, key, nil))
		return
	}

	result, err := e.analyzer.Analyze(ctx, services.AnalysisRequest{
		TenantID:  job.TenantID,
		EntityID:  entityID,
		Candidate: &candidate,
		Protocol:  job.AnalysisProtocol,
		Provider:  job.AnalysisProvider,
	})
	if err != nil {
		exec.Log(e.entry("analyze", models.StepFailed, err.Error()+"; lead kept pending", key, nil))
		return
	}
	exec.LeadsAnalyzed++
	exec.LeadsCreated++
	exec.Log(e.entry("analyze", models.StepOK, candidate.Name, key, nil))

	if result.EntityID != "" {
		entityID = result.EntityID
	}
	if job.AutoAssignListID == "" {
		return
	}
	if err := e.entities.AssignToList(ctx, entityID, job.AutoAssignListID); err != nil {
		exec.Log(e.entry("assign", models.StepFailed, err.Error(), key, nil))
		return
	}
	exec.Log(e.entry("assign", models.StepOK, job.AutoAssignListID, key, nil))
}

func (e *BatchExecutor) analysisPhase(ctx context.Context, job models.ScheduledJob, exec *models.JobExecution) error {
	staleDays := job.StaleAfterDays
	if staleDays <= 0 {
		staleDays = defaultStaleAfterDays
	}
	staleBefore := exec.StartedAt.AddDate(0, 0, -staleDays)

	entities, err := e.entities.ListForAnalysis(ctx, job.TenantID, staleBefore, maxResults(job))
	if err != nil {
		exec.Log(e.entry("select", models.StepFailed, err.Error(), "", nil))
		return errors.Wrap(err, "select entities for analysis")
	}
	exec.Log(e.entry("select", models.StepOK, fmt.Sprintf("%d entities due for analysis", len(entities)), "",
		map[string]int{"selected": len(entities)}))

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			exec.Log(e.entry("analyze", models.StepFailed, "execution deadline reached", "", nil))
			return errors.Wrap(err, "analysis phase interrupted")
		}

		_, err := e.analyzer.Analyze(ctx, services.AnalysisRequest{
			TenantID: job.TenantID,
			EntityID: entity.ID,
			Protocol: job.AnalysisProtocol,
			Provider: job.AnalysisProvider,
		})
		if err != nil {
			exec.Log(e.entry("analyze", models.StepFailed, err.Error(), entity.NaturalKey, nil))
			continue
		}
		exec.LeadsAnalyzed++
		exec.Log(e.entry("analyze", models.StepOK, entity.Name, entity.NaturalKey, nil))
	}

	exec.Log(e.entry("summary", models.StepOK, "", "", map[string]int{
		"selected": len(entities),
		"analyzed": exec.LeadsAnalyzed,
	}))
	return nil
}

func (e *BatchExecutor) entry(step, status, message, key string, counts map[string]int) models.LogEntry {
	return models.LogEntry{
		Step:      step,
		Status:    status,
		Message:   message,
		EntityKey: key,
		Counts:    counts,
		At:        e.clock.now(),
	}
}

func maxResults(job models.ScheduledJob) int {
	if job.MaxResults <= 0 {
		return defaultMaxResults
	}
	return job.MaxResults
}
