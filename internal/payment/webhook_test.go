package payment

import (
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedHeader(secret string, payload []byte, at time.Time) http.Header {
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, SignStripePayload(secret, ts, payload)))
	return h
}

func TestStripeWebhookVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	wh := NewStripeWebhook("whsec_test", 5*time.Minute)
	wh.now = func() time.Time { return now }
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded"}`)

	require.NoError(t, wh.Verify(payload, signedHeader("whsec_test", payload, now)))

	assert.ErrorIs(t, wh.Verify(payload, signedHeader("wrong", payload, now)), ErrInvalidSignature)
	assert.ErrorIs(t, wh.Verify(payload, signedHeader("whsec_test", payload, now.Add(-10*time.Minute))), ErrInvalidSignature)
	assert.ErrorIs(t, wh.Verify([]byte(`{"id":"evt_2"}`), signedHeader("whsec_test", payload, now)), ErrInvalidSignature)
	assert.ErrorIs(t, wh.Verify(payload, http.Header{}), ErrInvalidSignature)
}

func TestStripeWebhookParse(t *testing.T) {
	wh := NewStripeWebhook("whsec_test", 0)

	tests := []struct {
		name    string
		payload string
		kind    NotificationKind
		intent  string
		wantErr error
	}{
		{
			name:    "succeeded",
			payload: `{"id":"evt_1","type":"payment_intent.succeeded","created":1767225600,"data":{"object":{"id":"pi_1","amount":2500,"currency":"eur","metadata":{"registration_id":"reg-1"}}}}`,
			kind:    PaymentSucceeded,
			intent:  "pi_1",
		},
		{
			name:    "failed",
			payload: `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_2","amount":2500,"currency":"eur"}}}`,
			kind:    PaymentFailed,
			intent:  "pi_2",
		},
		{
			name:    "intent canceled",
			payload: `{"id":"evt_3","type":"payment_intent.canceled","data":{"object":{"id":"pi_3"}}}`,
			kind:    PaymentCanceled,
			intent:  "pi_3",
		},
		{
			name:    "checkout session expired",
			payload: `{"id":"evt_4","type":"checkout.session.expired","data":{"object":{"id":"cs_1","payment_intent":"pi_4","amount_total":900,"currency":"usd"}}}`,
			kind:    PaymentCanceled,
			intent:  "pi_4",
		},
		{
			name:    "session without intent",
			payload: `{"id":"evt_5","type":"checkout.session.expired","data":{"object":{"id":"cs_2","payment_intent":null}}}`,
			wantErr: ErrEventIgnored,
		},
		{
			name:    "unrelated type",
			payload: `{"id":"evt_6","type":"customer.created","data":{"object":{}}}`,
			wantErr: ErrEventIgnored,
		},
		{
			name:    "missing id",
			payload: `{"type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "not json",
			payload: `not-json`,
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := wh.Parse([]byte(tt.payload))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, tt.intent, n.IntentID)
			assert.Equal(t, "stripe", n.Provider)
		})
	}
}

func TestStripeWebhookParseNormalizesFields(t *testing.T) {
	wh := NewStripeWebhook("whsec_test", 0)
	n, err := wh.Parse([]byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1767225600,"data":{"object":{"id":"pi_1","amount":2500,"currency":"eur","metadata":{"registration_id":"reg-1"}}}}`))
	require.NoError(t, err)

	assert.Equal(t, "EUR", n.Currency)
	assert.Equal(t, int64(2500), n.Amount)
	assert.Equal(t, "reg-1", n.Metadata["registration_id"])
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), n.OccurredAt)
}
