package jobs

import (
	"context"
	"crypto/md5"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/database"
	"github.com/leadwatch/core/pkg/logger"
)

// JobLockManager provides distributed locking for job execution
type JobLockManager interface {
	// AcquireLock attempts to acquire a distributed lock for the given job.
	// Returns true if lock was acquired, false if already locked by another instance
	AcquireLock(ctx context.Context, jobName string) (bool, error)

	// ReleaseLock releases the distributed lock for the given job
	ReleaseLock(ctx context.Context, jobName string) error

	// IsLocked checks if a job is currently locked
	IsLocked(ctx context.Context, jobName string) (bool, error)

	// AcquireLockWithTimeout attempts to acquire a lock, polling until timeout
	AcquireLockWithTimeout(ctx context.Context, jobName string, timeout time.Duration) (bool, error)
}

// LockDialer opens a new dedicated session, typically with pgx.Connect
type LockDialer func(ctx context.Context) (database.DBTX, error)

// PostgreSQLLockManager implements distributed locking using session-level
// advisory locks. Acquire and release must reach the same backend session, so
// db must be a single dedicated connection (*pgx.Conn), never a pool.
// Calls are serialized because a connection is not safe for concurrent use.
//
// With a dialer the session is opened on first use and re-opened after it
// breaks. Locks held by a broken session are released server side.
type PostgreSQLLockManager struct {
	mu     sync.Mutex
	db     database.DBTX
	dial   LockDialer
	logger *logger.Logger
}

// NewPostgreSQLLockManager creates a lock manager bound to one fixed session
func NewPostgreSQLLockManager(db database.DBTX) *PostgreSQLLockManager {
	return &PostgreSQLLockManager{
		db:     db,
		logger: logger.New("job-lock-manager"),
	}
}

// NewReconnectingLockManager creates a lock manager that dials its session
// lazily and replaces it whenever it is closed or a lock query fails
func NewReconnectingLockManager(dial LockDialer) *PostgreSQLLockManager {
	return &PostgreSQLLockManager{
		dial:   dial,
		logger: logger.New("job-lock-manager"),
	}
}

type sessionCloser interface {
	Close(ctx context.Context) error
}

// session returns a usable connection. Callers hold p.mu.
func (p *PostgreSQLLockManager) session(ctx context.Context) (database.DBTX, error) {
	if p.db != nil {
		closed, ok := p.db.(interface{ IsClosed() bool })
		if !ok || !closed.IsClosed() {
			return p.db, nil
		}
		p.dropSession()
	}
	if p.dial == nil {
		return nil, errors.New("lock session is closed")
	}

	db, err := p.dial(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open lock session")
	}
	p.db = db
	p.logger.Info().Str("action", "lock_session_opened").Msg("Opened advisory lock session")
	return db, nil
}

// dropSession discards the current connection so the next call dials again.
// Without a dialer the session is kept; there is nothing to replace it with.
func (p *PostgreSQLLockManager) dropSession() {
	if p.dial == nil || p.db == nil {
		return
	}
	if c, ok := p.db.(sessionCloser); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.Close(ctx)
		cancel()
	}
	p.db = nil
	p.logger.Warn().Str("action", "lock_session_dropped").Msg("Dropped advisory lock session, next call reconnects")
}

// Close ends the session and with it every lock this instance holds
func (p *PostgreSQLLockManager) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropSession()
}

// generateLockID derives a stable positive advisory lock key from the job name
func (p *PostgreSQLLockManager) generateLockID(jobName string) int64 {
	hash := md5.Sum([]byte("leadwatch:" + jobName))

	lockID := int64(0)
	for i := 0; i < 8; i++ {
		lockID = lockID<<8 + int64(hash[i])
	}
	if lockID < 0 {
		lockID = -lockID
	}
	return lockID
}

func (p *PostgreSQLLockManager) queryBool(ctx context.Context, query string, lockID int64) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	db, err := p.session(ctx)
	if err != nil {
		return false, err
	}

	var result bool
	if err := db.QueryRow(ctx, query, lockID).Scan(&result); err != nil {
		if ctx.Err() == nil {
			p.dropSession()
		}
		return false, err
	}
	return result, nil
}

func (p *PostgreSQLLockManager) AcquireLock(ctx context.Context, jobName string) (bool, error) {
	lockID := p.generateLockID(jobName)

	acquired, err := p.queryBool(ctx, "SELECT pg_try_advisory_lock($1)", lockID)
	if err != nil {
		p.logger.Error().
			Err(err).
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "acquire_lock_failed").
			Msg("Failed to acquire distributed lock")
		return false, errors.Wrapf(err, "failed to acquire lock for job %s", jobName)
	}

	p.logger.Debug().
		Str("job_name", jobName).
		Int64("lock_id", lockID).
		Bool("acquired", acquired).
		Str("action", "acquire_lock").
		Msg("Advisory lock attempt")

	return acquired, nil
}

func (p *PostgreSQLLockManager) ReleaseLock(ctx context.Context, jobName string) error {
	lockID := p.generateLockID(jobName)

	released, err := p.queryBool(ctx, "SELECT pg_advisory_unlock($1)", lockID)
	if err != nil {
		return errors.Wrapf(err, "failed to release lock for job %s", jobName)
	}

	if !released {
		p.logger.Warn().
			Str("job_name", jobName).
			Int64("lock_id", lockID).
			Str("action", "lock_not_held").
			Msg("Attempted to release lock that was not held")
	}
	return nil
}

// IsLocked tests the lock by acquiring and immediately releasing it
func (p *PostgreSQLLockManager) IsLocked(ctx context.Context, jobName string) (bool, error) {
	lockID := p.generateLockID(jobName)

	canAcquire, err := p.queryBool(ctx, "SELECT pg_try_advisory_lock($1)", lockID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check lock status for job %s", jobName)
	}
	if !canAcquire {
		return true, nil
	}

	if _, err := p.queryBool(ctx, "SELECT pg_advisory_unlock($1)", lockID); err != nil {
		p.logger.Warn().
			Err(err).
			Str("job_name", jobName).
			Msg("Failed to release lock after check")
	}
	return false, nil
}

func (p *PostgreSQLLockManager) AcquireLockWithTimeout(ctx context.Context, jobName string, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		acquired, err := p.AcquireLock(ctx, jobName)
		if err != nil || acquired {
			return acquired, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}

// LockGuard releases a lock only if this guard acquired it
type LockGuard struct {
	lockManager JobLockManager
	jobName     string
	acquired    bool
}

// NewLockGuard creates a new lock guard that automatically releases on defer
func NewLockGuard(lockManager JobLockManager, jobName string) *LockGuard {
	return &LockGuard{
		lockManager: lockManager,
		jobName:     jobName,
	}
}

func (lg *LockGuard) Acquire(ctx context.Context) (bool, error) {
	acquired, err := lg.lockManager.AcquireLock(ctx, lg.jobName)
	if err != nil {
		return false, err
	}
	lg.acquired = acquired
	return acquired, nil
}

func (lg *LockGuard) AcquireWithTimeout(ctx context.Context, timeout time.Duration) (bool, error) {
	acquired, err := lg.lockManager.AcquireLockWithTimeout(ctx, lg.jobName, timeout)
	if err != nil {
		return false, err
	}
	lg.acquired = acquired
	return acquired, nil
}

func (lg *LockGuard) Release(ctx context.Context) error {
	if !lg.acquired {
		return nil
	}
	if err := lg.lockManager.ReleaseLock(ctx, lg.jobName); err != nil {
		return err
	}
	lg.acquired = false
	return nil
}

func (lg *LockGuard) IsAcquired() bool {
	return lg.acquired
}
