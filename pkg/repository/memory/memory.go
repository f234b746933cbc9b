// Package memory is an in-process implementation of the repository
// contracts, used for dry runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/repository"
)

// Store keeps every record in maps guarded by one mutex
type Store struct {
	mu         sync.Mutex
	jobs       map[string]*models.ScheduledJob
	executions map[string]*models.JobExecution
	watches    map[string]*models.MonitoringWatch
	triggers   []models.TriggerEvent
	entities   map[string]*models.Entity
}

// New creates an empty store
func New() *Store {
	return &Store{
		jobs:       make(map[string]*models.ScheduledJob),
		executions: make(map[string]*models.JobExecution),
		watches:    make(map[string]*models.MonitoringWatch),
		entities:   make(map[string]*models.Entity),
	}
}

var (
	_ repository.JobStore    = (*Store)(nil)
	_ repository.WatchStore  = (*Store)(nil)
	_ repository.EntityStore = (*Store)(nil)
)

// PutJob inserts or replaces a job
func (s *Store) PutJob(job models.ScheduledJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = &job
}

// PutWatch inserts or replaces a watch
func (s *Store) PutWatch(watch models.MonitoringWatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[watch.ID] = &watch
}

// PutEntity inserts or replaces an entity
func (s *Store) PutEntity(entity models.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity.ID] = &entity
}

// DeleteEntity removes an entity
func (s *Store) DeleteEntity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
}

// Executions returns copies of every execution of jobID, oldest first
func (s *Store) Executions(jobID string) []models.JobExecution {
	list, _ := s.ListExecutions(context.Background(), jobID, 0)
	sort.SliceStable(list, func(i, j int) bool { return list[i].StartedAt.Before(list[j].StartedAt) })
	return list
}

// Entities returns copies of every entity of a tenant
func (s *Store) Entities(tenantID string) []models.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Entity
	for _, e := range s.entities {
		if e.TenantID == tenantID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NaturalKey < out[j].NaturalKey })
	return out
}

func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inFlight := make(map[string]bool)
	for _, e := range s.executions {
		if e.Status == models.ExecutionStatusRunning {
			inFlight[e.JobID] = true
		}
	}

	var due []models.ScheduledJob
	for _, j := range s.jobs {
		if j.IsActive && !j.NextRunAt.After(now) && !inFlight[j.ID] {
			due = append(due, *j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].NextRunAt.Equal(due[k].NextRunAt) {
			return due[i].NextRunAt.Before(due[k].NextRunAt)
		}
		return due[i].ID < due[k].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(repository.ErrNotFound, "scheduled job %s", id)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) HasRunningExecution(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.executions {
		if e.JobID == jobID && e.Status == models.ExecutionStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateExecution(ctx context.Context, exec *models.JobExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if _, exists := s.executions[exec.ID]; exists {
		return errors.Newf("execution %s already exists", exec.ID)
	}
	s.executions[exec.ID] = cloneExecution(exec)
	return nil
}

func (s *Store) FinishExecution(ctx context.Context, exec *models.JobExecution, run models.JobRunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.executions[exec.ID]
	if !ok {
		return errors.Wrapf(repository.ErrNotFound, "execution %s", exec.ID)
	}
	if stored.Status.IsTerminal() {
		return errors.Wrapf(models.ErrExecutionClosed, "execution %s", exec.ID)
	}
	job, ok := s.jobs[run.JobID]
	if !ok {
		return errors.Wrapf(repository.ErrNotFound, "scheduled job %s", run.JobID)
	}

	s.executions[exec.ID] = cloneExecution(exec)
	applyRun(job, run)
	return nil
}

func (s *Store) AdvanceJob(ctx context.Context, jobID string, lastRunAt, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return errors.Wrapf(repository.ErrNotFound, "scheduled job %s", jobID)
	}
	applyRun(job, models.JobRunUpdate{JobID: jobID, LastRunAt: lastRunAt, NextRunAt: nextRunAt})
	return nil
}

func (s *Store) FailInterruptedExecutions(ctx context.Context, startedBefore, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.executions {
		if e.Status == models.ExecutionStatusRunning && e.StartedAt.Before(startedBefore) {
			msg := "execution interrupted before completion"
			e.Status = models.ExecutionStatusFailed
			e.ErrorMessage = &msg
			completed := now
			e.CompletedAt = &completed
			n++
		}
	}
	return n, nil
}

func (s *Store) ListExecutions(ctx context.Context, jobID string, limit int) ([]models.JobExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.JobExecution
	for _, e := range s.executions {
		if e.JobID == jobID {
			out = append(out, *cloneExecution(e))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListDueWatches(ctx context.Context, now time.Time, limit int) ([]models.MonitoringWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.MonitoringWatch
	for _, w := range s.watches {
		if w.IsActive && !w.NextCheckDate.After(now) {
			due = append(due, *w)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if !due[i].NextCheckDate.Equal(due[k].NextCheckDate) {
			return due[i].NextCheckDate.Before(due[k].NextCheckDate)
		}
		return due[i].ID < due[k].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) GetWatch(ctx context.Context, id string) (*models.MonitoringWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.watches[id]
	if !ok {
		return nil, errors.Wrapf(repository.ErrNotFound, "monitoring watch %s", id)
	}
	cp := *w
	return &cp, nil
}

func (s *Store) RecordCheck(ctx context.Context, watch *models.MonitoringWatch, events []models.TriggerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.watches[watch.ID]
	if !ok {
		return errors.Wrapf(repository.ErrNotFound, "monitoring watch %s", watch.ID)
	}
	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.New().String()
		}
	}
	s.triggers = append(s.triggers, events...)

	// only the check fields; activation is owned by the deactivation paths
	stored.LastCheckDate = watch.LastCheckDate
	stored.NextCheckDate = watch.NextCheckDate
	stored.CheckCount = watch.CheckCount
	stored.LastSeenAt = watch.LastSeenAt
	stored.Baseline = watch.Baseline
	return nil
}

func (s *Store) DeactivateStaleWatches(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, w := range s.watches {
		if !w.IsActive {
			continue
		}
		seen := w.CreatedAt
		if w.LastSeenAt != nil {
			seen = *w.LastSeenAt
		}
		if seen.Before(cutoff) {
			w.IsActive = false
			n++
		}
	}
	return n, nil
}

func (s *Store) ListTriggerEvents(ctx context.Context, monitoringID string, limit int) ([]models.TriggerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.TriggerEvent
	for i := len(s.triggers) - 1; i >= 0; i-- {
		if s.triggers[i].MonitoringID == monitoringID {
			out = append(out, s.triggers[i])
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, errors.Wrapf(repository.ErrNotFound, "entity %s", id)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ExistsByNaturalKey(ctx context.Context, tenantID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entities {
		if e.TenantID == tenantID && e.NaturalKey == key {
			return true, nil
		}
	}
	return false, nil
}

// CreatePending returns the existing id when the key is already stored
func (s *Store) CreatePending(ctx context.Context, tenantID, key string, candidate models.Candidate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entities {
		if e.TenantID == tenantID && e.NaturalKey == key {
			return e.ID, nil
		}
	}
	id := uuid.New().String()
	s.entities[id] = &models.Entity{
		ID:         id,
		TenantID:   tenantID,
		NaturalKey: key,
		OrgNumber:  candidate.OrgNumber,
		Name:       candidate.Name,
		CreatedAt:  time.Now(),
	}
	return id, nil
}

func (s *Store) ListForAnalysis(ctx context.Context, tenantID string, staleBefore time.Time, limit int) ([]models.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Entity
	for _, e := range s.entities {
		if e.TenantID != tenantID {
			continue
		}
		if e.AnalyzedAt == nil || e.AnalyzedAt.Before(staleBefore) {
			out = append(out, *e)
		}
	}
	// Never-analyzed first, then oldest analysis first
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].AnalyzedAt, out[j].AnalyzedAt
		switch {
		case a == nil && b == nil:
			return out[i].NaturalKey < out[j].NaturalKey
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AssignToList(ctx context.Context, entityID, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return errors.Wrapf(repository.ErrNotFound, "entity %s", entityID)
	}
	e.ListID = listID
	return nil
}

func applyRun(job *models.ScheduledJob, run models.JobRunUpdate) {
	last := run.LastRunAt
	job.LastRunAt = &last
	job.NextRunAt = run.NextRunAt
	job.TotalRuns++
	job.TotalLeadsFound += run.LeadsFound
	job.TotalLeadsAnalyzed += run.LeadsAnalyzed
	job.TotalLeadsCreated += run.LeadsCreated
	job.UpdatedAt = run.LastRunAt
}

func cloneExecution(e *models.JobExecution) *models.JobExecution {
	cp := *e
	cp.ExecutionLog = append([]models.LogEntry(nil), e.ExecutionLog...)
	return &cp
}
