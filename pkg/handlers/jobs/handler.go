package jobs

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/models/api"
	"github.com/leadwatch/core/pkg/repository"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

type Handler struct {
	jobs   repository.JobStore
	logger *logger.Logger
}

func NewHandler(jobs repository.JobStore, logger *logger.Logger) *Handler {
	return &Handler{
		jobs:   jobs,
		logger: logger,
	}
}

// Get handles GET /api/jobs/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	job, err := h.jobs.GetJob(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Str("action", "get_job_failed").Msg("Failed to fetch job")
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}

	executions, err := h.jobs.ListExecutions(ctx, id, 5)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Str("action", "list_executions_failed").Msg("Failed to fetch executions")
		http.Error(w, "Failed to fetch executions", http.StatusInternalServerError)
		return
	}
	if executions == nil {
		executions = []models.JobExecution{}
	}

	h.write(w, api.Response{
		Success: true,
		Data: api.JobResponse{
			Job:              *job,
			RecentExecutions: executions,
		},
	})
}

// Executions handles GET /api/jobs/{id}/executions?limit=N
func (h *Handler) Executions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	limit, ok := parseLimit(r)
	if !ok {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	if _, err := h.jobs.GetJob(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		h.logger.Error().Err(err).Str("job_id", id).Str("action", "get_job_failed").Msg("Failed to fetch job")
		http.Error(w, "Failed to fetch job", http.StatusInternalServerError)
		return
	}

	executions, err := h.jobs.ListExecutions(ctx, id, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("job_id", id).Str("action", "list_executions_failed").Msg("Failed to fetch executions")
		http.Error(w, "Failed to fetch executions", http.StatusInternalServerError)
		return
	}
	if executions == nil {
		executions = []models.JobExecution{}
	}

	h.write(w, api.Response{
		Success: true,
		Data:    executions,
		Meta: map[string]any{
			"total": len(executions),
			"limit": limit,
		},
	})
}

func (h *Handler) write(w http.ResponseWriter, resp api.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode jobs response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func parseLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	if n > maxLimit {
		n = maxLimit
	}
	return n, true
}
