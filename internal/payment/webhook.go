package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
	// ErrEventIgnored marks provider events outside the reconciliation
	// vocabulary. They are acknowledged and dropped.
	ErrEventIgnored = errors.New("webhook event ignored")
)

// NotificationKind is the provider-neutral meaning of a webhook event.
type NotificationKind string

const (
	PaymentSucceeded NotificationKind = "payment_succeeded"
	PaymentFailed    NotificationKind = "payment_failed"
	PaymentCanceled  NotificationKind = "payment_canceled"
)

// Notification is a verified, normalized provider event. Nothing past the
// webhook boundary looks at provider field names.
type Notification struct {
	Provider   string
	EventID    string
	EventType  string
	Kind       NotificationKind
	IntentID   string
	Amount     int64
	Currency   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// StripeWebhook verifies and parses Stripe webhook deliveries.
type StripeWebhook struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

// NewStripeWebhook constructs a StripeWebhook. A zero tolerance disables the
// timestamp check.
func NewStripeWebhook(secret string, tolerance time.Duration) *StripeWebhook {
	return &StripeWebhook{
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
		now:       time.Now,
	}
}

// Verify checks the Stripe-Signature header against payload.
func (w *StripeWebhook) Verify(payload []byte, headers http.Header) error {
	if w.secret == "" {
		return ErrInvalidSignature
	}
	header := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if header == "" {
		return ErrInvalidSignature
	}
	ts, signatures, err := parseStripeSignature(header)
	if err != nil {
		return ErrInvalidSignature
	}

	if w.tolerance > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return ErrInvalidSignature
		}
		age := w.now().Sub(time.Unix(sec, 0))
		if age > w.tolerance || age < -w.tolerance {
			return ErrInvalidSignature
		}
	}

	expected := SignStripePayload(w.secret, ts, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignStripePayload computes the v1 signature Stripe sends for payload.
func SignStripePayload(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeIntentObject struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata"`
}

type stripeSessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent *string           `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

// Parse normalizes a Stripe event into a Notification.
func (w *StripeWebhook) Parse(payload []byte) (Notification, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(event.ID) == "" {
		return Notification{}, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}

	n := Notification{
		Provider:   "stripe",
		EventID:    event.ID,
		EventType:  event.Type,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "payment_intent.succeeded":
		n.Kind = PaymentSucceeded
	case "payment_intent.payment_failed":
		n.Kind = PaymentFailed
	case "payment_intent.canceled":
		n.Kind = PaymentCanceled
	case "checkout.session.expired":
		var session stripeSessionObject
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if session.PaymentIntent == nil || *session.PaymentIntent == "" {
			return Notification{}, ErrEventIgnored
		}
		n.Kind = PaymentCanceled
		n.IntentID = *session.PaymentIntent
		n.Amount = session.AmountTotal
		n.Currency = strings.ToUpper(session.Currency)
		n.Metadata = session.Metadata
		return n, nil
	default:
		return Notification{}, ErrEventIgnored
	}

	var intent stripeIntentObject
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if intent.ID == "" {
		return Notification{}, fmt.Errorf("%w: missing payment intent id", ErrInvalidPayload)
	}
	n.IntentID = intent.ID
	n.Amount = intent.Amount
	n.Currency = strings.ToUpper(intent.Currency)
	n.Metadata = intent.Metadata
	return n, nil
}

func parseStripeSignature(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "t":
			timestamp = strings.TrimSpace(value)
		case "v1":
			signatures = append(signatures, strings.TrimSpace(value))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}
