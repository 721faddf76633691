package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type fakeReconciler struct {
	got     []payment.Notification
	outcome string
	err     error
}

func (f *fakeReconciler) HandleEvent(_ context.Context, n payment.Notification) (string, error) {
	f.got = append(f.got, n)
	return f.outcome, f.err
}

func webhookRequest(payload, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(payload))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, payment.SignStripePayload(secret, ts, []byte(payload))))
	return req
}

func newWebhookRouter(rec *fakeReconciler) http.Handler {
	return NewRouter(RouterConfig{
		Events:   NewEventHandler(&fakeRegistrar{}, &fakeCatalog{}, nil),
		Webhooks: NewWebhookHandler(payment.NewStripeWebhook(testWebhookSecret, 5*time.Minute), rec, nil),
	})
}

const succeededPayload = `{
  "id": "evt_1",
  "type": "payment_intent.succeeded",
  "created": 1700000000,
  "data": {"object": {"id": "pi_1", "amount": 2500, "currency": "eur", "metadata": {"registration_id": "reg-1"}}}
}`

func TestWebhookAppliesVerifiedEvent(t *testing.T) {
	rec := &fakeReconciler{outcome: "applied"}
	w := httptest.NewRecorder()

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(succeededPayload, testWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"applied"}`, w.Body.String())
	require.Len(t, rec.got, 1)
	assert.Equal(t, "evt_1", rec.got[0].EventID)
	assert.Equal(t, "pi_1", rec.got[0].IntentID)
	assert.Equal(t, payment.PaymentSucceeded, rec.got[0].Kind)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	rec := &fakeReconciler{}
	w := httptest.NewRecorder()

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(succeededPayload, "whsec_wrong"))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), codeInvalidSignature)
	assert.Empty(t, rec.got)
}

func TestWebhookAcknowledgesIgnoredEvents(t *testing.T) {
	rec := &fakeReconciler{}
	w := httptest.NewRecorder()
	payload := `{"id":"evt_2","type":"customer.created","data":{"object":{"id":"cus_1"}}}`

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(payload, testWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())
	assert.Empty(t, rec.got)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	rec := &fakeReconciler{}
	w := httptest.NewRecorder()

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(`{not json`, testWebhookSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rec.got)
}

func TestWebhookTransientFailureAsksForRedelivery(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("reconcile evt_1: connection reset")}
	w := httptest.NewRecorder()

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(succeededPayload, testWebhookSecret))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookIgnoresUserIdentity(t *testing.T) {
	rec := &fakeReconciler{outcome: "duplicate"}
	w := httptest.NewRecorder()
	req := webhookRequest(succeededPayload, testWebhookSecret)
	req.Header.Set(UserHeader, "alice")

	newWebhookRouter(rec).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"duplicate"}`, w.Body.String())
}

func TestWebhookAcceptsLargeEvents(t *testing.T) {
	rec := &fakeReconciler{outcome: "applied"}
	w := httptest.NewRecorder()
	payload := `{
  "id": "evt_big",
  "type": "payment_intent.succeeded",
  "created": 1700000000,
  "data": {"object": {"id": "pi_1", "amount": 2500, "currency": "eur", "metadata": {"note": "` + strings.Repeat("x", 200<<10) + `"}}}
}`

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(payload, testWebhookSecret))

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "evt_big", rec.got[0].EventID)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	rec := &fakeReconciler{}
	w := httptest.NewRecorder()

	newWebhookRouter(rec).ServeHTTP(w, webhookRequest(strings.Repeat("x", maxWebhookBody+1), testWebhookSecret))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, rec.got)
}
