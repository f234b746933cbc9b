package jobs

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/notify"
	"github.com/leadwatch/core/pkg/repository"
	"github.com/leadwatch/core/pkg/schedule"
	"github.com/leadwatch/core/pkg/triggers"
)

// MonitoringExecutorConfig wires the collaborators of a watch check
type MonitoringExecutorConfig struct {
	Watches  repository.WatchStore
	Entities repository.EntityStore
	Notifier notify.Notifier
	Clock    Clock
	// CheckTimeout bounds one check independently of the tick; 0 uses two minutes
	CheckTimeout time.Duration
	Logger       *logger.Logger
}

const defaultCheckTimeout = 2 * time.Minute

// MonitoringExecutor re-checks one watched entity against its baseline
type MonitoringExecutor struct {
	watches  repository.WatchStore
	entities repository.EntityStore
	notifier notify.Notifier
	clock    Clock
	timeout  time.Duration
	logger   *logger.Logger
}

// CheckResult describes what one check did
type CheckResult struct {
	Events      []models.TriggerEvent
	EntityFound bool
	Notified    bool
	// NotifyErr is set when delivery failed; the check itself still counts
	NotifyErr error
}

func NewMonitoringExecutor(cfg MonitoringExecutorConfig) *MonitoringExecutor {
	log := cfg.Logger
	if log == nil {
		log = logger.New("monitoring-executor")
	}
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &MonitoringExecutor{
		watches:  cfg.Watches,
		entities: cfg.Entities,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		timeout:  timeout,
		logger:   log,
	}
}

// Check diffs the entity against the watch baseline, records the events and
// the advanced schedule together, then notifies. The baseline becomes the
// current state, so an unchanged entity yields nothing on the next check.
func (m *MonitoringExecutor) Check(ctx context.Context, watch models.MonitoringWatch) (result CheckResult, err error) {
	log := m.logger.WithWatch(watch.ID, watch.EntityID)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic during watch check: %v", r)
			log.Error().Err(err).Str("action", "watch_check_panic").Msg("Recovered panic in watch check")
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	now := m.clock.now()

	entity, fetchErr := m.entities.Get(ctx, watch.EntityID)
	switch {
	case fetchErr == nil:
		result.EntityFound = true
	case errors.Is(fetchErr, repository.ErrNotFound):
		log.Warn().Str("action", "watch_entity_missing").Msg("Watched entity no longer exists")
	default:
		// schedule moves on, baseline stays as it was
		advanceWatch(&watch, now)
		if recErr := m.watches.RecordCheck(ctx, &watch, nil); recErr != nil {
			log.Error().Err(recErr).Str("action", "record_check_failed").Msg("Failed to advance watch after fetch error")
		}
		return result, errors.Wrapf(fetchErr, "fetch entity %s", watch.EntityID)
	}

	if result.EntityFound {
		current := entity.Snapshot()
		if !watch.Baseline.IsZero() {
			result.Events = triggers.Detect(watch.Baseline, current, watch.TriggerConfig, now)
		} else {
			log.Info().Str("action", "baseline_established").Msg("First observation, recording baseline")
		}
		for i := range result.Events {
			result.Events[i].MonitoringID = watch.ID
			result.Events[i].EntityID = watch.EntityID
		}
		watch.Baseline = current
		seen := now
		watch.LastSeenAt = &seen
	}
	advanceWatch(&watch, now)

	if err := m.watches.RecordCheck(ctx, &watch, result.Events); err != nil {
		return CheckResult{EntityFound: result.EntityFound}, errors.Wrapf(err, "record check of watch %s", watch.ID)
	}

	for _, ev := range result.Events {
		log.LogTriggerDetected(watch.ID, ev.TriggerType, string(ev.Severity), ev.OldValue, ev.NewValue, ev.ChangePercentage)
	}

	if len(result.Events) == 0 || watch.NotificationEmail == "" || m.notifier == nil {
		return result, nil
	}

	subject, body := notify.Format(entity.Name, result.Events)
	if err := m.notifier.Send(ctx, watch.NotificationEmail, subject, body); err != nil {
		result.NotifyErr = err
		log.Error().
			Err(err).
			Str("action", "notification_failed").
			Str("to", watch.NotificationEmail).
			Int("events", len(result.Events)).
			Msg("Failed to send change notification")
		return result, nil
	}
	result.Notified = true
	return result, nil
}

func advanceWatch(watch *models.MonitoringWatch, now time.Time) {
	checked := now
	watch.LastCheckDate = &checked
	watch.CheckCount++
	watch.NextCheckDate = schedule.NextCheck(watch.IntervalDays, now)
}
