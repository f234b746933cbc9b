package models

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ExecutionStatus is the lifecycle state of one job run
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ErrExecutionClosed is returned when a terminal execution is written to again
var ErrExecutionClosed = errors.New("execution already closed")

// validExecutionTransitions lists every allowed (from -> to) pair.
// completed and failed are terminal.
var validExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending: {ExecutionStatusRunning, ExecutionStatusFailed},
	ExecutionStatusRunning: {ExecutionStatusCompleted, ExecutionStatusFailed},
}

// IsTerminal reports whether no further writes are allowed
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// Log step statuses
const (
	StepOK      = "ok"
	StepSkipped = "skipped"
	StepFailed  = "failed"
)

// LogEntry is one step record of an execution's audit trail
type LogEntry struct {
	Step      string         `json:"step"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	EntityKey string         `json:"entity_key,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
	At        time.Time      `json:"at"`
}

// JobExecution is one concrete run of a ScheduledJob
type JobExecution struct {
	ID     string          `json:"id"`
	JobID  string          `json:"job_id"`
	Status ExecutionStatus `json:"status"`

	LeadsFound    int `json:"leads_found"`
	LeadsAnalyzed int `json:"leads_analyzed"`
	LeadsCreated  int `json:"leads_created"`
	LeadsSkipped  int `json:"leads_skipped"`

	ExecutionLog []LogEntry `json:"execution_log"`
	ErrorMessage *string    `json:"error_message,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the execution to the next status, rejecting writes to
// terminal executions and transitions the state machine does not allow.
func (e *JobExecution) Transition(to ExecutionStatus) error {
	if e.Status.IsTerminal() {
		return errors.Wrapf(ErrExecutionClosed, "execution %s is %s", e.ID, e.Status)
	}
	for _, allowed := range validExecutionTransitions[e.Status] {
		if allowed == to {
			e.Status = to
			return nil
		}
	}
	return errors.Newf("invalid execution transition %s -> %s", e.Status, to)
}

// Log appends a step record
func (e *JobExecution) Log(entry LogEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	e.ExecutionLog = append(e.ExecutionLog, entry)
}

// Complete closes the execution successfully
func (e *JobExecution) Complete(at time.Time) error {
	if err := e.Transition(ExecutionStatusCompleted); err != nil {
		return err
	}
	e.CompletedAt = &at
	return nil
}

// Fail closes the execution with an error message
func (e *JobExecution) Fail(at time.Time, cause error) error {
	if err := e.Transition(ExecutionStatusFailed); err != nil {
		return err
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	e.ErrorMessage = &msg
	e.CompletedAt = &at
	return nil
}
