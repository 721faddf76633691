package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripeCreateIntent(t *testing.T) {
	var gotKey, gotAuth string
	var gotForm map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","client_secret":"pi_123_secret_abc","status":"requires_payment_method","amount":2500,"currency":"eur"}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL})
	intent, err := gw.CreateIntent(context.Background(), IntentRequest{
		Amount:         2500,
		Currency:       "EUR",
		IdempotencyKey: "reg-1",
		Metadata:       map[string]string{"event_id": "evt-1", "registration_id": "reg-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_abc", intent.ClientSecret)
	assert.Equal(t, "EUR", intent.Currency)
	assert.Equal(t, "reg-1", gotKey)
	assert.Equal(t, "Bearer sk_test", gotAuth)
	assert.Equal(t, []string{"2500"}, gotForm["amount"])
	assert.Equal(t, []string{"eur"}, gotForm["currency"])
	assert.Equal(t, []string{"reg-1"}, gotForm["metadata[registration_id]"])
}

func TestStripeErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transient bool
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{}`, transient: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`, transient: true},
		{name: "idempotent request in flight", status: http.StatusConflict, body: `{"error":{"type":"idempotency_error"}}`, transient: true},
		{name: "invalid amount", status: http.StatusBadRequest, body: `{"error":{"code":"amount_too_small","message":"Amount must be at least 50 cents"}}`},
		{name: "account restricted", status: http.StatusForbidden, body: `{"error":{"code":"account_invalid"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL})
			_, err := gw.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "usd"})
			require.Error(t, err)

			var gwErr *GatewayError
			require.ErrorAs(t, err, &gwErr)
			assert.Equal(t, tt.status, gwErr.StatusCode)
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestStripeTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test", BaseURL: url})
	_, err := gw.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "usd"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestStripeWithoutKeyIsPermanent(t *testing.T) {
	gw := NewStripeGateway(StripeConfig{})
	_, err := gw.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "usd"})
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, IsTransient(err))
}

func TestStripeCancelIntent(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"pi_9","status":"canceled"}`))
	}))
	defer srv.Close()

	gw := NewStripeGateway(StripeConfig{SecretKey: "sk_test", BaseURL: srv.URL})
	require.NoError(t, gw.CancelIntent(context.Background(), "pi_9"))
	assert.Equal(t, "/v1/payment_intents/pi_9/cancel", gotPath)
}
