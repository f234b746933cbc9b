package watches

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/leadwatch/core/pkg/logger"
	"github.com/leadwatch/core/pkg/models"
	"github.com/leadwatch/core/pkg/models/api"
	"github.com/leadwatch/core/pkg/repository"
	"github.com/leadwatch/core/pkg/triggers"
)

type Handler struct {
	watches repository.WatchStore
	logger  *logger.Logger
}

func NewHandler(watches repository.WatchStore, logger *logger.Logger) *Handler {
	return &Handler{
		watches: watches,
		logger:  logger,
	}
}

// Get handles GET /api/watches/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	watch, ok := h.load(w, r, id)
	if !ok {
		return
	}

	events, err := h.watches.ListTriggerEvents(ctx, id, 10)
	if err != nil {
		h.logger.Error().Err(err).Str("watch_id", id).Str("action", "list_triggers_failed").Msg("Failed to fetch trigger events")
		http.Error(w, "Failed to fetch trigger events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.TriggerEvent{}
	}

	h.write(w, api.Response{
		Success: true,
		Data: api.WatchResponse{
			Watch:           *watch,
			RecentTriggers:  events,
			HighestSeverity: triggers.MaxSeverity(events),
		},
	})
}

// Triggers handles GET /api/watches/{id}/triggers?limit=N
func (h *Handler) Triggers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 500)
	}

	if _, ok := h.load(w, r, id); !ok {
		return
	}

	events, err := h.watches.ListTriggerEvents(ctx, id, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("watch_id", id).Str("action", "list_triggers_failed").Msg("Failed to fetch trigger events")
		http.Error(w, "Failed to fetch trigger events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []models.TriggerEvent{}
	}

	h.write(w, api.Response{
		Success: true,
		Data:    events,
		Meta: map[string]any{
			"total": len(events),
			"limit": limit,
		},
	})
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, id string) (*models.MonitoringWatch, bool) {
	watch, err := h.watches.GetWatch(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Watch not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error().Err(err).Str("watch_id", id).Str("action", "get_watch_failed").Msg("Failed to fetch watch")
		http.Error(w, "Failed to fetch watch", http.StatusInternalServerError)
		return nil, false
	}
	return watch, true
}

func (h *Handler) write(w http.ResponseWriter, resp api.Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode watches response")
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
