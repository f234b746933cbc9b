package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwatch/core/pkg/database"
)

// fakeLockConn emulates the advisory lock functions of one Postgres session
type fakeLockConn struct {
	locks  map[int64]bool
	broken bool
	closed bool
}

func newFakeLockConn() *fakeLockConn {
	return &fakeLockConn{locks: make(map[int64]bool)}
}

func (f *fakeLockConn) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	if f.broken || f.closed {
		return errRow{err: errors.New("conn closed")}
	}
	if len(args) == 0 {
		return boolRow(false)
	}
	lockID := args[0].(int64)

	switch query {
	case "SELECT pg_try_advisory_lock($1)":
		if f.locks[lockID] {
			return boolRow(false)
		}
		f.locks[lockID] = true
		return boolRow(true)
	case "SELECT pg_advisory_unlock($1)":
		held := f.locks[lockID]
		delete(f.locks, lockID)
		return boolRow(held)
	}
	return boolRow(false)
}

func (f *fakeLockConn) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeLockConn) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (f *fakeLockConn) IsClosed() bool { return f.closed }

func (f *fakeLockConn) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(dest ...interface{}) error { return r.err }

type boolRow bool

func (b boolRow) Scan(dest ...interface{}) error {
	if v, ok := dest[0].(*bool); ok {
		*v = bool(b)
	}
	return nil
}

func TestLockManager_AcquireRelease(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	ctx := context.Background()

	acquired, err := lockManager.AcquireLock(ctx, "batch_jobs")
	require.NoError(t, err)
	assert.True(t, acquired)

	again, err := lockManager.AcquireLock(ctx, "batch_jobs")
	require.NoError(t, err)
	assert.False(t, again, "second acquisition must fail while held")

	locked, err := lockManager.IsLocked(ctx, "batch_jobs")
	require.NoError(t, err)
	assert.True(t, locked)

	// other families are independent
	other, err := lockManager.AcquireLock(ctx, "monitoring")
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, lockManager.ReleaseLock(ctx, "batch_jobs"))

	locked, err = lockManager.IsLocked(ctx, "batch_jobs")
	require.NoError(t, err)
	assert.False(t, locked, "IsLocked must not leave the lock held")

	reacquired, err := lockManager.AcquireLock(ctx, "batch_jobs")
	require.NoError(t, err)
	assert.True(t, reacquired)
}

func TestLockManager_ReleaseUnheldIsNoError(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	assert.NoError(t, lockManager.ReleaseLock(context.Background(), "never-taken"))
}

func TestLockGuard(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	ctx := context.Background()

	guard := NewLockGuard(lockManager, "monitoring")
	acquired, err := guard.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.True(t, guard.IsAcquired())

	rival := NewLockGuard(lockManager, "monitoring")
	acquired, err = rival.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, acquired)
	// releasing a guard that never acquired leaves the holder alone
	require.NoError(t, rival.Release(ctx))

	locked, err := lockManager.IsLocked(ctx, "monitoring")
	require.NoError(t, err)
	assert.True(t, locked)

	require.NoError(t, guard.Release(ctx))
	assert.False(t, guard.IsAcquired())

	acquired, err = rival.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLockManager_AcquireWithTimeout(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	ctx := context.Background()

	acquired, err := lockManager.AcquireLock(ctx, "batch_jobs")
	require.NoError(t, err)
	require.True(t, acquired)

	start := time.Now()
	acquired, err = lockManager.AcquireLockWithTimeout(ctx, "batch_jobs", 200*time.Millisecond)
	assert.Error(t, err)
	assert.False(t, acquired)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestGenerateLockID(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())

	id := lockManager.generateLockID("batch_jobs")
	assert.Equal(t, id, lockManager.generateLockID("batch_jobs"))
	assert.NotEqual(t, id, lockManager.generateLockID("monitoring"))
	assert.Positive(t, id)
}

func TestLockedJob_SkipsWhenLockHeld(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	ctx := context.Background()

	inner := &mockJob{name: "batch_jobs", schedule: "@every 1m"}
	locked := NewLockedJob(inner, lockManager, nil)

	// another instance holds the lock
	held, err := lockManager.AcquireLock(ctx, "batch_jobs")
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, locked.Execute(ctx))
	assert.False(t, inner.wasExecuted())

	require.NoError(t, lockManager.ReleaseLock(ctx, "batch_jobs"))

	require.NoError(t, locked.Execute(ctx))
	assert.True(t, inner.wasExecuted())

	isLocked, err := lockManager.IsLocked(ctx, "batch_jobs")
	require.NoError(t, err)
	assert.False(t, isLocked, "lock released after execution")
}

func TestLockedJob_FailsWhenConfiguredNotToSkip(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	ctx := context.Background()

	inner := &mockJob{name: "monitoring", schedule: "@every 1h"}
	locked := NewLockedJob(inner, lockManager, &LockedJobConfig{SkipIfLocked: false})

	_, err := lockManager.AcquireLock(ctx, "monitoring")
	require.NoError(t, err)

	assert.Error(t, locked.Execute(ctx))
	assert.False(t, inner.wasExecuted())
	assert.Equal(t, "monitoring", locked.Name())
	assert.Equal(t, "@every 1h", locked.Schedule())
}

func TestLockedJob_TimeoutWithoutLockSkips(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(newFakeLockConn())
	ctx := context.Background()

	inner := &mockJob{name: "batch_jobs", schedule: "@every 1m"}
	locked := NewLockedJob(inner, lockManager, &LockedJobConfig{LockTimeout: 150 * time.Millisecond, SkipIfLocked: true})

	_, err := lockManager.AcquireLock(ctx, "batch_jobs")
	require.NoError(t, err)

	assert.NoError(t, locked.Execute(ctx))
	assert.False(t, inner.wasExecuted())
}

func TestLockManager_ReconnectsAfterBrokenSession(t *testing.T) {
	var sessions []*fakeLockConn
	lockManager := NewReconnectingLockManager(func(ctx context.Context) (database.DBTX, error) {
		conn := newFakeLockConn()
		sessions = append(sessions, conn)
		return conn, nil
	})
	ctx := context.Background()

	inner := &mockJob{name: "batch_jobs", schedule: "@every 1m"}
	locked := NewLockedJob(inner, lockManager, nil)

	require.NoError(t, locked.Execute(ctx))
	require.Len(t, sessions, 1, "session opened lazily on first tick")
	assert.Equal(t, int32(1), inner.executions)

	// the database dropped the connection between ticks
	sessions[0].broken = true
	assert.Error(t, locked.Execute(ctx))
	assert.True(t, sessions[0].closed, "broken session discarded")
	assert.Equal(t, int32(1), inner.executions)

	require.NoError(t, locked.Execute(ctx))
	require.Len(t, sessions, 2)
	assert.Equal(t, int32(2), inner.executions)

	require.NoError(t, locked.Execute(ctx))
	assert.Len(t, sessions, 2, "healthy session reused")
	assert.Equal(t, int32(3), inner.executions)
}

func TestLockManager_ReconnectsWhenSessionClosed(t *testing.T) {
	dials := 0
	lockManager := NewReconnectingLockManager(func(ctx context.Context) (database.DBTX, error) {
		dials++
		if dials == 2 {
			return nil, errors.New("connection refused")
		}
		return newFakeLockConn(), nil
	})
	ctx := context.Background()

	acquired, err := lockManager.AcquireLock(ctx, "monitoring")
	require.NoError(t, err)
	require.True(t, acquired)

	lockManager.Close()

	// database still down: the tick fails but nothing is cached
	_, err = lockManager.AcquireLock(ctx, "monitoring")
	require.Error(t, err)

	acquired, err = lockManager.AcquireLock(ctx, "monitoring")
	require.NoError(t, err)
	assert.True(t, acquired, "locks of the old session died with it")
	assert.Equal(t, 3, dials)
}
