package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/types"
)

const defaultStatsDays = 7

// UsageHandler serves the metered rewrite endpoint and the caller's activity history.
type UsageHandler struct {
	usage      *services.UsageService
	activities *services.ActivityService
	logger     *slog.Logger
}

func NewUsageHandler(usage *services.UsageService, activities *services.ActivityService, logger *slog.Logger) *UsageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageHandler{usage: usage, activities: activities, logger: logger}
}

// UsageRouter registers the rewrite and activity routes. Callers must be authenticated.
func UsageRouter(r chi.Router, h *UsageHandler) {
	r.Post("/rewrite", h.Rewrite)
	r.Get("/activities", h.Recent)
	r.Get("/activities/stats", h.Stats)
}

type RewriteRequest struct {
	Text        string `json:"text"`
	Description string `json:"description"`
	Style       string `json:"style"`
}

type StatsResponse struct {
	types.ActivityStats
	Daily []types.DailyCount `json:"daily"`
}

// Rewrite rewrites the submitted text and charges its words to the caller.
func (h *UsageHandler) Rewrite(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RewriteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	result, err := h.usage.Rewrite(r.Context(), accountID, req.Text, req.Description, req.Style)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Recent lists the caller's newest activities.
func (h *UsageHandler) Recent(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	activities, err := h.activities.Recent(r.Context(), accountID, limit)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if activities == nil {
		activities = []types.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

// Stats returns the caller's totals and a zero-filled daily series.
func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	days, err := parseIntParam(r, "days", defaultStatsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.activities.Stats(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	daily, err := h.activities.AggregateDailyCountsFor(r.Context(), accountID, days)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{ActivityStats: stats, Daily: daily})
}
