package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Shivanand-hulikatti/event-registration/internal/payment"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// WebhookVerifier authenticates and decodes provider deliveries.
type WebhookVerifier interface {
	Verify(payload []byte, headers http.Header) error
	Parse(payload []byte) (payment.Notification, error)
}

// Reconciler applies a verified notification.
type Reconciler interface {
	HandleEvent(ctx context.Context, n payment.Notification) (string, error)
}

// WebhookHandler receives payment provider webhooks.
type WebhookHandler struct {
	verifier   WebhookVerifier
	reconciler Reconciler
	log        *zap.Logger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(verifier WebhookVerifier, reconciler Reconciler, log *zap.Logger) *WebhookHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebhookHandler{verifier: verifier, reconciler: reconciler, log: log.Named("webhook")}
}

// Payments handles POST /webhooks/payments
//
// 200 means the event is durably processed or was already processed, and
// the provider stops redelivering. 400 is returned for deliveries that can
// never succeed; 500 asks the provider to retry later.
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidPayload, "unreadable body")
		return
	}

	if err := h.verifier.Verify(payload, r.Header); err != nil {
		h.log.Warn("webhook signature rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, codeInvalidSignature, "invalid signature")
		return
	}

	n, err := h.verifier.Parse(payload)
	switch {
	case errors.Is(err, payment.ErrEventIgnored):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	case err != nil:
		h.log.Warn("webhook payload rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, codeInvalidPayload, "invalid payload")
		return
	}

	outcome, err := h.reconciler.HandleEvent(r.Context(), n)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, codeInvalidPayload, "invalid payload")
			return
		}
		h.log.Error("webhook reconciliation failed",
			zap.String("provider_event_id", n.EventID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, codeInternalError, "temporarily unable to process event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": outcome})
}
