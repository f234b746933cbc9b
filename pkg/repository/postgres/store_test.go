package postgres

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/repository"
)

// fakeDB answers QueryRow with a fixed row, Query with canned rows and Exec
// with queued command tags
type fakeDB struct {
	row      pgx.Row
	rows     [][]interface{}
	tags     []string
	execSQL  []string
	execArgs [][]interface{}
	querySQL []string
	failExec string
	beginErr error

	committed  bool
	rolledBack bool
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.failExec != "" && strings.Contains(sql, f.failExec) {
		return pgconn.CommandTag{}, errors.New("connection reset by peer")
	}
	if len(f.tags) == 0 {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	tag := f.tags[0]
	f.tags = f.tags[1:]
	return pgconn.NewCommandTag(tag), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.querySQL = append(f.querySQL, sql)
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

// fakeRows scans each canned value into the matching destination pointer
type fakeRows struct {
	pgx.Rows
	rows   [][]interface{}
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	for i, v := range r.rows[r.pos] {
		if v == nil {
			continue
		}
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(v))
	}
	return nil
}

func (r *fakeRows) Close()     { r.closed = true }
func (r *fakeRows) Err() error { return nil }

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return f.row
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{db: f}, nil
}

type fakeTx struct {
	pgx.Tx
	db     *fakeDB
	closed bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return t.db.Exec(ctx, sql, args...)
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.closed = true
	t.db.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.db.rolledBack = true
	return nil
}

type scanRow struct {
	err  error
	vals []interface{}
}

func (r scanRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, v := range r.vals {
		switch d := dest[i].(type) {
		case *bool:
			*d = v.(bool)
		case *string:
			*d = v.(string)
		}
	}
	return nil
}

func TestStore_NotFoundMapsToSentinel(t *testing.T) {
	s := New(&fakeDB{row: scanRow{err: pgx.ErrNoRows}})
	ctx := context.Background()

	_, err := s.GetJob(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = s.GetWatch(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestStore_ExistsAndCreatePending(t *testing.T) {
	ctx := context.Background()

	exists, err := New(&fakeDB{row: scanRow{vals: []interface{}{true}}}).ExistsByNaturalKey(ctx, "t1", "org:1")
	require.NoError(t, err)
	assert.True(t, exists)

	id, err := New(&fakeDB{row: scanRow{vals: []interface{}{"lead-1"}}}).CreatePending(ctx, "t1", "org:1", models.Candidate{Name: "Acme AB"})
	require.NoError(t, err)
	assert.Equal(t, "lead-1", id)
}

func closedRun() (*models.JobExecution, models.JobRunUpdate) {
	now := time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)
	exec := &models.JobExecution{ID: "e1", JobID: "j1", Status: models.ExecutionStatusRunning, StartedAt: now}
	_ = exec.Complete(now.Add(time.Minute))
	return exec, models.JobRunUpdate{JobID: "j1", LastRunAt: now, NextRunAt: now.Add(24 * time.Hour)}
}

func TestStore_FinishExecutionCommitsBothWrites(t *testing.T) {
	db := &fakeDB{tags: []string{"UPDATE 1", "UPDATE 1"}}
	exec, run := closedRun()

	require.NoError(t, New(db).FinishExecution(context.Background(), exec, run))
	assert.True(t, db.committed)
	assert.False(t, db.rolledBack)
	require.Len(t, db.execSQL, 2)
	assert.Contains(t, db.execSQL[0], "UPDATE job_executions")
	assert.Contains(t, db.execSQL[1], "UPDATE scheduled_jobs")
}

func TestStore_FinishExecutionRejectsClosedExecution(t *testing.T) {
	db := &fakeDB{tags: []string{"UPDATE 0"}}
	exec, run := closedRun()

	err := New(db).FinishExecution(context.Background(), exec, run)
	assert.True(t, errors.Is(err, models.ErrExecutionClosed))
	assert.False(t, db.committed)
	assert.True(t, db.rolledBack)
	assert.Len(t, db.execSQL, 1, "job row untouched")
}

func TestStore_FinishExecutionRollsBackWhenJobMissing(t *testing.T) {
	db := &fakeDB{tags: []string{"UPDATE 1", "UPDATE 0"}}
	exec, run := closedRun()

	err := New(db).FinishExecution(context.Background(), exec, run)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.True(t, db.rolledBack)
	assert.False(t, db.committed)
}

func TestStore_FailInterruptedExecutions(t *testing.T) {
	db := &fakeDB{tags: []string{"UPDATE 3"}}
	now := time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)

	n, err := New(db).FailInterruptedExecutions(context.Background(), now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

var rowTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func jobRow(id string, queryJSON string) []interface{} {
	return []interface{}{
		id, "t1", "Job " + id, "search", "09:00", "weekdays", true,
		rowTime, (*time.Time)(nil), []byte(queryJSON), "", "",
		20, (*string)(nil), 90, 0, 0,
		0, 0, rowTime, rowTime,
	}
}

func watchRow(id, configJSON, baselineJSON string) []interface{} {
	return []interface{}{
		id, "t1", "e-" + id, 7, rowTime, (*time.Time)(nil),
		(*time.Time)(nil), 0, "sales@example.com", []byte(configJSON), true, []byte(baselineJSON), rowTime,
	}
}

func TestStore_ListDueJobsSkipsUndecodableRow(t *testing.T) {
	db := &fakeDB{rows: [][]interface{}{
		jobRow("j1", `{"query":"saas stockholm"}`),
		jobRow("j2", `{"query":`),
		jobRow("j3", `{"query":"fintech"}`),
	}}

	jobs, err := New(db).ListDueJobs(context.Background(), rowTime, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "j1", jobs[0].ID)
	assert.Equal(t, "saas stockholm", jobs[0].SearchQuery.Query)
	assert.Equal(t, "j3", jobs[1].ID)

	require.Len(t, db.querySQL, 1)
	assert.Contains(t, db.querySQL[0], "status = 'running'", "jobs with a run in flight are not listed")

	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "UPDATE scheduled_jobs SET is_active = false")
	assert.Equal(t, []interface{}{[]string{"j2"}}, db.execArgs[0])
}

func TestStore_ListDueWatches(t *testing.T) {
	db := &fakeDB{rows: [][]interface{}{
		watchRow("w1", `{}`, `{"name":"Acme AB","legal_status":"active"}`),
		watchRow("w2", `{"enabled":["news"],"revenue_change_percent":5}`, `{}`),
		watchRow("w3", `{}`, `not json`),
	}}

	watches, err := New(db).ListDueWatches(context.Background(), rowTime, 10)
	require.NoError(t, err)
	require.Len(t, watches, 2)

	assert.Equal(t, models.DefaultTriggerConfig(), watches[0].TriggerConfig)
	assert.Equal(t, "Acme AB", watches[0].Baseline.Name)
	assert.Equal(t, []models.TriggerKind{models.TriggerNews}, watches[1].TriggerConfig.Enabled)
	assert.Equal(t, 5.0, watches[1].TriggerConfig.RevenueChangePercent)
	assert.True(t, watches[1].Baseline.IsZero())

	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "UPDATE monitoring_watches SET is_active = false")
	assert.Equal(t, []interface{}{[]string{"w3"}}, db.execArgs[0])
}

func checkedWatch() (*models.MonitoringWatch, []models.TriggerEvent) {
	checked := rowTime.Add(time.Hour)
	watch := &models.MonitoringWatch{
		ID: "w1", EntityID: "e1", IsActive: true, CheckCount: 3,
		LastCheckDate: &checked, LastSeenAt: &checked, NextCheckDate: checked.AddDate(0, 0, 7),
		Baseline: models.Snapshot{Name: "Acme AB", LegalStatus: "bankruptcy"},
	}
	events := []models.TriggerEvent{
		{MonitoringID: "w1", EntityID: "e1", TriggerType: "legal_status", Severity: models.SeverityCritical, DetectedAt: checked},
		{MonitoringID: "w1", EntityID: "e1", TriggerType: "news", Severity: models.SeverityLow, DetectedAt: checked},
	}
	return watch, events
}

func TestStore_RecordCheckCommitsEventsAndWatch(t *testing.T) {
	db := &fakeDB{tags: []string{"INSERT 0 1", "INSERT 0 1", "UPDATE 1"}}
	watch, events := checkedWatch()

	require.NoError(t, New(db).RecordCheck(context.Background(), watch, events))
	assert.True(t, db.committed)
	assert.False(t, db.rolledBack)

	require.Len(t, db.execSQL, 3)
	assert.Contains(t, db.execSQL[0], "INSERT INTO trigger_events")
	assert.Contains(t, db.execSQL[1], "INSERT INTO trigger_events")
	assert.Contains(t, db.execSQL[2], "UPDATE monitoring_watches")
	assert.NotContains(t, db.execSQL[2], "is_active", "activation is never written by a check")
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestStore_RecordCheckRollsBackOnInsertFailure(t *testing.T) {
	db := &fakeDB{failExec: "INSERT INTO trigger_events"}
	watch, events := checkedWatch()

	err := New(db).RecordCheck(context.Background(), watch, events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert trigger event legal_status")
	assert.True(t, db.rolledBack)
	assert.False(t, db.committed)
	assert.Len(t, db.execSQL, 1, "watch row untouched")
}

func TestStore_RecordCheckMissingWatch(t *testing.T) {
	db := &fakeDB{tags: []string{"INSERT 0 1", "INSERT 0 1", "UPDATE 0"}}
	watch, events := checkedWatch()

	err := New(db).RecordCheck(context.Background(), watch, events)
	assert.True(t, errors.Is(err, repository.ErrNotFound))
	assert.True(t, db.rolledBack)
	assert.False(t, db.committed)
}

func TestStore_DeactivateStaleWatches(t *testing.T) {
	db := &fakeDB{tags: []string{"UPDATE 2"}}

	n, err := New(db).DeactivateStaleWatches(context.Background(), rowTime.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.Len(t, db.execSQL, 1)
	assert.Contains(t, db.execSQL[0], "COALESCE(last_seen_at, created_at)")
}
