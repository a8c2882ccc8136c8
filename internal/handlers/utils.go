package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/wordgate/apiserver/internal/billing"
	"github.com/wordgate/apiserver/internal/services"
	"github.com/wordgate/apiserver/internal/store"
)

const maxBodyBytes = 1 << 20

type contextKey string

const contextSubjectKey contextKey = "sub"

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// QuotaErrorResponse is returned with 402 when a request does not fit the remaining quota.
type QuotaErrorResponse struct {
	Error          string `json:"error"`
	WordsRemaining int64  `json:"words_remaining"`
	WordCount      int64  `json:"word_count"`
}

func accountIDFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var quota *services.QuotaExceededError
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, billing.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrWrongPassword):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrDuplicateEmail), errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.As(err, &quota):
		return http.StatusPaymentRequired
	case errors.Is(err, billing.ErrUnknownPlan):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Server-side
// failures are logged; their details are not exposed to the client.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)

	var quota *services.QuotaExceededError
	if errors.As(err, &quota) {
		writeJSON(w, status, QuotaErrorResponse{
			Error:          "word quota exceeded",
			WordsRemaining: quota.Remaining,
			WordCount:      quota.Requested,
		})
		return
	}

	var message string
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusConflict,
		http.StatusUnprocessableEntity:
		message = err.Error()
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			message = verr.Error()
		}
	case http.StatusNotFound:
		message = "not found"
	case http.StatusBadGateway:
		message = services.ErrUpstream.Error()
	case http.StatusServiceUnavailable:
		message = services.ErrStorageUnavailable.Error()
	default:
		message = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeError(w, status, message)
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return value, nil
}

// Healthz reports liveness and, when check is set, storage reachability.
func Healthz(check func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			if err := check(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
