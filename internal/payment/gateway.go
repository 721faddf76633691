// Package payment adapts the external payment provider: creating payment
// intents and turning provider webhooks into a small internal vocabulary.
package payment

import (
	"context"
	"errors"
	"fmt"
)

// IntentRequest describes a payment intent to create.
type IntentRequest struct {
	Amount   int64
	Currency string
	// IdempotencyKey is forwarded to the provider so a replayed create
	// returns the intent created the first time.
	IdempotencyKey string
	Metadata       map[string]string
}

// Intent is the provider's answer to an intent creation.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	Currency     string
}

// Gateway is the capability the registration core needs from a provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// GatewayError is a classified provider failure.
type GatewayError struct {
	Transient  bool
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("payment gateway %s error: %v", kind, e.Err)
	case e.Code != "":
		return fmt.Sprintf("payment gateway %s error (status %d, %s): %s", kind, e.StatusCode, e.Code, e.Message)
	default:
		return fmt.Sprintf("payment gateway %s error (status %d): %s", kind, e.StatusCode, e.Message)
	}
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Transient
	}
	return false
}

// ErrNotConfigured is returned when priced registration is attempted without
// a provider configured.
var ErrNotConfigured = &GatewayError{Message: "payment provider not configured"}
