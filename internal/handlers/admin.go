package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/wordgate/apiserver/internal/alert"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/types"
)

// ReplayFunc re-records dead-lettered activities.
type ReplayFunc func(ctx context.Context) (alert.ReplayResult, error)

// AdminHandler serves account administration endpoints.
type AdminHandler struct {
	accounts   *services.AccountService
	lifecycle  *services.LifecycleService
	activities *services.ActivityService
	replay     ReplayFunc
	logger     *slog.Logger
}

// NewAdminHandler constructs an AdminHandler. replay may be nil when no
// dead-letter storage is configured.
func NewAdminHandler(
	accounts *services.AccountService,
	lifecycle *services.LifecycleService,
	activities *services.ActivityService,
	replay ReplayFunc,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		accounts:   accounts,
		lifecycle:  lifecycle,
		activities: activities,
		replay:     replay,
		logger:     logger,
	}
}

// AdminRouter registers admin routes. Callers must be authenticated admins.
func AdminRouter(r chi.Router, h *AdminHandler) {
	r.Get("/users", h.ListUsers)
	r.Route("/users/{accountID}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Get("/activities", h.UserActivities)
		r.Post("/subscription", h.ChangeSubscription)
		r.Post("/reset-usage", h.ResetUsage)
		r.Put("/admin", h.SetAdmin)
	})
	r.Post("/sweep", h.Sweep)
	r.Get("/stats", h.Stats)
	r.Post("/dead-letters/replay", h.ReplayDeadLetters)
}

type SetAdminRequest struct {
	IsAdmin *bool `json:"is_admin"`
}

type UserActivitiesResponse struct {
	Stats      types.ActivityStats `json:"stats"`
	Activities []types.Activity    `json:"activities"`
}

type SweepResponse struct {
	Downgraded int    `json:"downgraded"`
	Error      string `json:"error,omitempty"`
}

type ReplayResponse struct {
	Replayed int    `json:"replayed"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

// ListUsers returns every account, expiration-checked.
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	views, err := h.accounts.ListAll(r.Context())
	if views == nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if err != nil {
		h.logger.Warn("listing users with stale accounts", "error", err)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.View(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AdminHandler) UserActivities(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	limit, err := parseIntParam(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.accounts.Get(r.Context(), accountID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	stats, err := h.activities.Stats(r.Context(), accountID)
	if err != nil {
		writeServiceError(w, h.logger, err)
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
	writeJSON(w, http.StatusOK, UserActivitiesResponse{Stats: stats, Activities: activities})
}

// ChangeSubscription applies a manual tier change.
func (h *AdminHandler) ChangeSubscription(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	var change types.TierChange
	if err := decodeJSON(w, r, &change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	if _, err := h.lifecycle.ApplyTierChange(r.Context(), accountID, change); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.GetUser(w, r)
}

func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.ResetUsage(r.Context(), chi.URLParam(r, "accountID")); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAdmin grants or revokes the admin flag. Only a JSON boolean is accepted.
func (h *AdminHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	var req SetAdminRequest
	if err := decodeJSON(w, r, &req); err != nil || req.IsAdmin == nil {
		writeError(w, http.StatusBadRequest, "is_admin must be a boolean")
		return
	}

	if err := h.accounts.SetAdmin(r.Context(), chi.URLParam(r, "accountID"), *req.IsAdmin); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sweep runs the expiration sweep now.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	downgraded, err := h.lifecycle.SweepAll(r.Context())
	if err != nil {
		h.logger.Error("manual sweep", "downgraded", downgraded, "error", err)
		status := statusFor(err)
		if status < http.StatusInternalServerError {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, SweepResponse{Downgraded: downgraded, Error: "sweep finished with errors"})
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Downgraded: downgraded})
}

// Stats returns the zero-filled daily activity count across all accounts.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntParam(r, "days", defaultStatsDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	daily, err := h.activities.AggregateDailyCounts(r.Context(), days)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, daily)
}

func (h *AdminHandler) ReplayDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.replay == nil {
		writeError(w, http.StatusNotImplemented, "dead-letter storage is not configured")
		return
	}
	result, err := h.replay(r.Context())
	resp := ReplayResponse{Replayed: result.Replayed, Failed: result.Failed}
	if err != nil {
		h.logger.Error("dead-letter replay", "replayed", result.Replayed, "failed", result.Failed, "error", err)
		resp.Error = "replay finished with errors"
		if errors.Is(err, context.Canceled) || result.Replayed+result.Failed == 0 {
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
