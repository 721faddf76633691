package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EventHandler holds the HTTP handlers for events and registrations.
type EventHandler struct {
	registrar Registrar
	catalog   Catalog
	log       *zap.Logger
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(registrar Registrar, catalog Catalog, log *zap.Logger) *EventHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventHandler{registrar: registrar, catalog: catalog, log: log.Named("http")}
}

// ListEvents handles GET /events
// Returns a JSON array of published and ended events with remaining capacity.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.catalog.ListEvents(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.EventView{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.catalog.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// Capacity handles GET /events/{id}/capacity
func (h *EventHandler) Capacity(w http.ResponseWriter, r *http.Request) {
	capacity, err := h.catalog.RemainingCapacity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, capacity)
}

// Registered handles GET /events/{id}/registration
// Reports whether the caller holds a live registration for the event.
func (h *EventHandler) Registered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := h.catalog.IsRegistered(r.Context(), id, UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, model.RegisteredResponse{EventID: id, Registered: ok})
}

// Register handles POST /events/{id}/register
// The idempotency key comes from the body or the Idempotency-Key header.
// A new registration answers 201, a replay 200.
func (h *EventHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	res, err := h.registrar.Register(r.Context(), service.RegisterInput{
		EventID:        chi.URLParam(r, "id"),
		UserID:         UserID(r.Context()),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res.Response())
}

// GetRegistration handles GET /registrations/{id}
func (h *EventHandler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	detail, err := h.registrar.Get(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CancelRegistration handles POST /registrations/{id}/cancel
func (h *EventHandler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	reg, err := h.registrar.Cancel(r.Context(), chi.URLParam(r, "id"), UserID(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}
