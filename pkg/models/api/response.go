package api

import (
	"time"

	"github.com/leadwatch/core/pkg/models"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database,omitempty"`
}

// JobResponse represents a scheduled job with its most recent executions
type JobResponse struct {
	Job              models.ScheduledJob   `json:"job"`
	RecentExecutions []models.JobExecution `json:"recent_executions"`
}

// WatchResponse represents a monitoring watch with its latest trigger events
type WatchResponse struct {
	Watch           models.MonitoringWatch `json:"watch"`
	RecentTriggers  []models.TriggerEvent  `json:"recent_triggers"`
	HighestSeverity models.Severity        `json:"highest_severity,omitempty"`
}

// Response represents a general API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
	Message string      `json:"message,omitempty"`
}
