package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadwatch/core/pkg/models"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{name: "hour and minute", input: "09:00", want: TimeOfDay{Hour: 9}},
		{name: "with seconds", input: "23:59:30", want: TimeOfDay{Hour: 23, Minute: 59, Second: 30}},
		{name: "surrounding space", input: " 7:05 ", want: TimeOfDay{Hour: 7, Minute: 5}},
		{name: "hour out of range", input: "24:00", wantErr: true},
		{name: "minute out of range", input: "10:60", wantErr: true},
		{name: "not a number", input: "ab:cd", wantErr: true},
		{name: "missing minute", input: "09", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidScheduleTime)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextRun(t *testing.T) {
	// 2025-03-08 is a Saturday
	saturday := time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)
	wednesday := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		time string
		days models.ScheduleDays
		now  time.Time
		want time.Time
	}{
		{
			name: "weekdays from saturday goes to monday",
			time: "09:00",
			days: models.ScheduleDaysWeekdays,
			now:  saturday,
			want: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "all days later today",
			time: "09:00",
			days: models.ScheduleDaysAll,
			now:  wednesday,
			want: time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "all days already passed today",
			time: "09:00",
			days: models.ScheduleDaysAll,
			now:  time.Date(2025, 3, 5, 9, 1, 0, 0, time.UTC),
			want: time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at schedule time moves to tomorrow",
			time: "09:00",
			days: models.ScheduleDaysAll,
			now:  time.Date(2025, 3, 5, 9, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekends from wednesday goes to saturday",
			time: "06:30",
			days: models.ScheduleDaysWeekends,
			now:  wednesday,
			want: time.Date(2025, 3, 8, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "weekends from sunday evening goes to next saturday",
			time: "06:30",
			days: models.ScheduleDaysWeekends,
			now:  time.Date(2025, 3, 9, 20, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 15, 6, 30, 0, 0, time.UTC),
		},
		{
			name: "weekdays friday after time goes to monday",
			time: "09:00",
			days: models.ScheduleDaysWeekdays,
			now:  time.Date(2025, 3, 7, 18, 0, 0, 0, time.UTC),
			want: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.time, tt.days, tt.now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestNextRun_AlwaysFutureAndAllowed(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	days := []models.ScheduleDays{models.ScheduleDaysAll, models.ScheduleDaysWeekdays, models.ScheduleDaysWeekends}

	for step := 0; step < 14*24; step++ {
		now := start.Add(time.Duration(step)*time.Hour + 17*time.Minute)
		for _, d := range days {
			got, err := NextRun("13:45", d, now)
			require.NoError(t, err)
			assert.True(t, got.After(now), "%s not after %s", got, now)
			assert.True(t, d.Allows(got.Weekday()), "%s not allowed for %s", got.Weekday(), d)
			assert.True(t, got.Sub(now) <= 8*24*time.Hour)
		}
	}
}

func TestNextRun_KeepsLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Stockholm")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	// Night before the spring DST switch
	now := time.Date(2025, 3, 29, 22, 0, 0, 0, loc)
	got, err := NextRun("08:00", models.ScheduleDaysAll, now)
	require.NoError(t, err)

	assert.Equal(t, loc, got.Location())
	assert.Equal(t, 30, got.Day())
	assert.Equal(t, 8, got.Hour())
}

func TestNextRun_InvalidTime(t *testing.T) {
	_, err := NextRun("9am", models.ScheduleDaysAll, time.Now())
	assert.ErrorIs(t, err, ErrInvalidScheduleTime)
}

func TestNextCheck(t *testing.T) {
	now := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)

	assert.Equal(t, now.AddDate(0, 0, 7), NextCheck(7, now))
	assert.Equal(t, now.AddDate(0, 0, 1), NextCheck(0, now))
	assert.Equal(t, now.AddDate(0, 0, 1), NextCheck(-3, now))
}
