package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wordgate/apiserver/internal/billing"
	"github.com/wordgate/apiserver/types"
)

// EventHandler applies a verified billing event.
type EventHandler interface {
	Handle(ctx context.Context, event types.BillingEvent) error
}

// WebhookHandler receives signed payment provider notifications.
type WebhookHandler struct {
	events    EventHandler
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
}

func NewWebhookHandler(events EventHandler, secret string, tolerance time.Duration, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		events:    events,
		secret:    secret,
		tolerance: tolerance,
		logger:    logger,
	}
}

// Billing verifies the Stripe-Signature header before decoding the event.
func (h *WebhookHandler) Billing(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	event, err := billing.ParseEvent(payload, r.Header.Get(billing.SignatureHeader), h.secret, h.tolerance)
	switch {
	case errors.Is(err, billing.ErrMalformedEvent):
		h.logger.Warn("billing webhook undecodable", "error", err)
		writeError(w, http.StatusBadRequest, "invalid event")
		return
	case err != nil:
		h.logger.Warn("billing webhook rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.events.Handle(r.Context(), event); err != nil {
		log := h.logger.With("event_id", event.ID, "event_type", event.Type)
		if errors.Is(err, billing.ErrUnknownPlan) || errors.Is(err, billing.ErrMalformedEvent) {
			log.Warn("billing event not applied", "error", err)
		} else {
			log.Error("billing event failed", "error", err)
		}
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
