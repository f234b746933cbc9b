package models

import "time"

// JobType selects which phases a scheduled job runs
type JobType string

const (
	JobTypeSearch   JobType = "search"
	JobTypeAnalysis JobType = "analysis"
	JobTypeBoth     JobType = "both"
)

// ScheduleDays restricts the calendar days a job may run on
type ScheduleDays string

const (
	ScheduleDaysAll      ScheduleDays = "all"
	ScheduleDaysWeekdays ScheduleDays = "weekdays"
	ScheduleDaysWeekends ScheduleDays = "weekends"
)

// Allows reports whether the given weekday satisfies the constraint.
// Unknown values behave like ScheduleDaysAll.
func (d ScheduleDays) Allows(day time.Weekday) bool {
	weekend := day == time.Saturday || day == time.Sunday
	switch d {
	case ScheduleDaysWeekdays:
		return !weekend
	case ScheduleDaysWeekends:
		return weekend
	default:
		return true
	}
}

// SearchQuery is the search definition a job hands to the search service
type SearchQuery struct {
	Query   string            `json:"query"`
	Filters map[string]string `json:"filters,omitempty"`
}

// ScheduledJob is a recurring batch search/analysis definition
type ScheduledJob struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id"`
	Name     string  `json:"name"`
	JobType  JobType `json:"job_type"`

	ScheduleTime string       `json:"schedule_time"` // HH:MM in the scheduler timezone
	ScheduleDays ScheduleDays `json:"schedule_days"`
	IsActive     bool         `json:"is_active"`
	NextRunAt    time.Time    `json:"next_run_at"`
	LastRunAt    *time.Time   `json:"last_run_at,omitempty"`

	SearchQuery      SearchQuery `json:"search_query"`
	AnalysisProtocol string      `json:"analysis_protocol"`
	AnalysisProvider string      `json:"analysis_provider"`
	MaxResults       int         `json:"max_results"`
	AutoAssignListID string      `json:"auto_assign_list_id,omitempty"`
	StaleAfterDays   int         `json:"stale_after_days"`

	TotalRuns          int `json:"total_runs"`
	TotalLeadsFound    int `json:"total_leads_found"`
	TotalLeadsAnalyzed int `json:"total_leads_analyzed"`
	TotalLeadsCreated  int `json:"total_leads_created"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunsSearch reports whether the job has a search phase
func (j *ScheduledJob) RunsSearch() bool {
	return j.JobType == JobTypeSearch || j.JobType == JobTypeBoth
}

// JobRunUpdate carries the bookkeeping applied to a job after one execution
type JobRunUpdate struct {
	JobID         string
	LastRunAt     time.Time
	NextRunAt     time.Time
	LeadsFound    int
	LeadsAnalyzed int
	LeadsCreated  int
}
