// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/service"
	"go.uber.org/zap"
)

const (
	codeInvalidRequestBody  = "invalid_request_body"
	codeIdempotencyRequired = "idempotency_key_required"
	codeUnauthenticated     = "unauthenticated"
	codeCapacityExceeded    = "capacity_exceeded"
	codeAlreadyRegistered   = "already_registered"
	codeEventNotFound       = "event_not_found"
	codeEventNotOpen        = "event_not_open"
	codeRegistrationUnavail = "registration_unavailable"
	codeRegistrationMissing = "registration_not_found"
	codeInvalidTransition   = "invalid_transition"
	codeInvalidSignature    = "invalid_signature"
	codeInvalidPayload      = "invalid_payload"
	codeInternalError       = "internal_error"
)

// Registrar is the registration state machine as seen by HTTP.
type Registrar interface {
	Register(ctx context.Context, in service.RegisterInput) (service.RegisterResult, error)
	Cancel(ctx context.Context, registrationID, userID string) (*model.Registration, error)
	Get(ctx context.Context, registrationID, userID string) (model.RegistrationDetail, error)
}

// Catalog answers read-only questions about events.
type Catalog interface {
	ListEvents(ctx context.Context) ([]model.EventView, error)
	GetEvent(ctx context.Context, id string) (model.EventView, error)
	IsRegistered(ctx context.Context, eventID, userID string) (bool, error)
	RemainingCapacity(ctx context.Context, eventID string) (model.CapacityResponse, error)
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and reported as a 500 without detail.
func writeServiceError(w http.ResponseWriter, log *zap.Logger, err error) {
	switch {
	case errors.Is(err, model.ErrUserRequired):
		writeError(w, http.StatusUnauthorized, codeUnauthenticated, "user identity required")
	case errors.Is(err, model.ErrIdempotencyKeyRequired):
		writeError(w, http.StatusBadRequest, codeIdempotencyRequired, "idempotency_key is required")
	case errors.Is(err, model.ErrEventNotFound):
		writeError(w, http.StatusNotFound, codeEventNotFound, "event not found")
	case errors.Is(err, model.ErrEventNotOpen):
		writeError(w, http.StatusConflict, codeEventNotOpen, "event is not open for registration")
	case errors.Is(err, model.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, codeCapacityExceeded, "event is fully booked")
	case errors.Is(err, model.ErrAlreadyRegistered):
		writeError(w, http.StatusConflict, codeAlreadyRegistered, "you are already registered for this event")
	case errors.Is(err, model.ErrRegistrationNotFound):
		writeError(w, http.StatusNotFound, codeRegistrationMissing, "registration not found")
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrStaleRegistration):
		writeError(w, http.StatusConflict, codeInvalidTransition, "registration can no longer be changed")
	case errors.Is(err, model.ErrPaymentUnavailable):
		log.Warn("registration unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, codeRegistrationUnavail, "registration unavailable, please try again")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
