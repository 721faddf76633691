package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StripeConfig configures the Stripe payment intent client.
type StripeConfig struct {
	SecretKey  string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// StripeGateway talks to the Stripe REST API directly.
type StripeGateway struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewStripeGateway constructs a StripeGateway.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &StripeGateway{
		secretKey: strings.TrimSpace(cfg.SecretKey),
		baseURL:   baseURL,
		client:    client,
	}
}

// CreateIntent creates a card payment intent carrying the given metadata.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, &GatewayError{Code: "amount_invalid", Message: "amount must be positive"}
	}
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", strings.ToLower(strings.TrimSpace(req.Currency)))
	values.Set("payment_method_types[]", "card")
	for k, v := range req.Metadata {
		values.Set("metadata["+k+"]", v)
	}

	intent, err := g.do(ctx, http.MethodPost, "/v1/payment_intents", values, req.IdempotencyKey)
	if err != nil {
		return Intent{}, err
	}
	return Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(intent.Currency),
	}, nil
}

// CancelIntent cancels an intent so it can no longer be paid.
func (g *StripeGateway) CancelIntent(ctx context.Context, intentID string) error {
	values := url.Values{}
	values.Set("cancellation_reason", "abandoned")
	_, err := g.do(ctx, http.MethodPost, "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", values, "")
	return err
}

func (g *StripeGateway) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string) (stripeIntent, error) {
	if g.secretKey == "" {
		return stripeIntent{}, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return stripeIntent{}, &GatewayError{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Timeouts and connection failures: the intent may or may not exist,
		// which the idempotency key makes safe to retry.
		return stripeIntent{}, &GatewayError{Transient: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return stripeIntent{}, &GatewayError{Transient: true, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return stripeIntent{}, classifyStripeError(resp.StatusCode, body)
	}

	var intent stripeIntent
	if err := json.Unmarshal(body, &intent); err != nil || intent.ID == "" {
		return stripeIntent{}, &GatewayError{Transient: true, StatusCode: resp.StatusCode, Message: "stripe response invalid"}
	}
	return intent, nil
}

func classifyStripeError(status int, body []byte) *GatewayError {
	var payload stripeErrorResponse
	_ = json.Unmarshal(body, &payload)

	message := strings.TrimSpace(payload.Error.Message)
	if message == "" {
		message = http.StatusText(status)
	}

	transient := status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	// 409 is a concurrent request with the same idempotency key still in flight.
	if status == http.StatusConflict {
		transient = true
	}
	return &GatewayError{
		Transient:  transient,
		StatusCode: status,
		Code:       payload.Error.Code,
		Message:    message,
	}
}
