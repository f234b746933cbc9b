// Package schedule computes the next eligible run time for daily jobs and
// the next check date for monitoring watches.
//
// All calculations happen in the location carried by the "now" argument.
// Callers convert to the single configured scheduler timezone before calling.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/models"
)

// ErrInvalidScheduleTime is returned for time-of-day strings that are not HH:MM[:SS]
var ErrInvalidScheduleTime = errors.New("invalid schedule time")

// maxDaySteps bounds the weekday search; any constraint is satisfied within a week
const maxDaySteps = 7

// TimeOfDay is a wall-clock time without a date
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseScheduleTime parses "HH:MM" or "HH:MM:SS"
func ParseScheduleTime(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, errors.Wrapf(ErrInvalidScheduleTime, "%q", value)
	}

	limits := []int{23, 59, 59}
	fields := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > limits[i] {
			return TimeOfDay{}, errors.Wrapf(ErrInvalidScheduleTime, "%q", value)
		}
		fields[i] = n
	}

	return TimeOfDay{Hour: fields[0], Minute: fields[1], Second: fields[2]}, nil
}

// On returns the instant at this time of day on the calendar date of day
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, t.Second, 0, day.Location())
}

// NextRun returns the first instant strictly after now that falls on
// scheduleTime and on a day allowed by days.
func NextRun(scheduleTime string, days models.ScheduleDays, now time.Time) (time.Time, error) {
	tod, err := ParseScheduleTime(scheduleTime)
	if err != nil {
		return time.Time{}, err
	}

	candidate := tod.On(now)
	if !candidate.After(now) {
		candidate = tod.On(nextDay(candidate))
	}

	for i := 0; i < maxDaySteps && !days.Allows(candidate.Weekday()); i++ {
		candidate = tod.On(nextDay(candidate))
	}

	return candidate, nil
}

// NextCheck returns now plus intervalDays calendar days; intervals below one
// day are treated as one day so the result is always in the future.
func NextCheck(intervalDays int, now time.Time) time.Time {
	if intervalDays < 1 {
		intervalDays = 1
	}
	return now.AddDate(0, 0, intervalDays)
}

// nextDay moves to noon of the following calendar day so DST shifts never
// land on the same date twice
func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 12, 0, 0, 0, t.Location())
}
