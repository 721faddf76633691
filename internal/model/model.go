// Package model defines the core domain types for event registration and
// payment reconciliation.
package model

import "time"

// EventStatus is the publication state of an event, owned by the content side.
type EventStatus string

const (
	EventDraft     EventStatus = "draft"
	EventPublished EventStatus = "published"
	EventEnded     EventStatus = "ended"
)

// Event is the registration-relevant view of an event. Capacity nil means
// unlimited; a zero PriceAmount means the event is free.
type Event struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Status        EventStatus `json:"status"`
	Capacity      *int        `json:"capacity"`
	HeldCount     int         `json:"held_count"`
	PriceAmount   int64       `json:"price_amount"`
	PriceCurrency string      `json:"price_currency,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// IsFree reports whether registering requires no payment step.
func (e *Event) IsFree() bool {
	return e.PriceAmount <= 0
}

// IsOpen reports whether the event accepts new registrations.
func (e *Event) IsOpen() bool {
	return e.Status == EventPublished
}

// Remaining returns the number of free slots, never negative. The second
// value is true when the event has no capacity limit.
func (e *Event) Remaining() (int, bool) {
	if e.Capacity == nil {
		return 0, true
	}
	left := *e.Capacity - e.HeldCount
	if left < 0 {
		left = 0
	}
	return left, false
}

// RegistrationStatus is a state of the registration lifecycle.
type RegistrationStatus string

const (
	StatusPending         RegistrationStatus = "pending"
	StatusAwaitingPayment RegistrationStatus = "awaiting_payment"
	StatusConfirmed       RegistrationStatus = "confirmed"
	StatusPaymentFailed   RegistrationStatus = "payment_failed"
	StatusExpired         RegistrationStatus = "expired"
	StatusCanceled        RegistrationStatus = "canceled"
)

// IsTerminal reports whether no further transition is permitted.
func (s RegistrationStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusPaymentFailed, StatusExpired, StatusCanceled:
		return true
	}
	return false
}

// IsLive reports whether a registration in this state holds (or has
// permanently consumed) a capacity slot.
func (s RegistrationStatus) IsLive() bool {
	switch s {
	case StatusPending, StatusAwaitingPayment, StatusConfirmed:
		return true
	}
	return false
}

// LiveStatuses lists the states counted against capacity.
var LiveStatuses = []RegistrationStatus{StatusPending, StatusAwaitingPayment, StatusConfirmed}

// Registration is one user's registration for one event.
type Registration struct {
	ID             string             `json:"id"`
	EventID        string             `json:"event_id"`
	UserID         string             `json:"user_id"`
	Status         RegistrationStatus `json:"status"`
	HoldsSlot      bool               `json:"-"`
	IdempotencyKey string             `json:"-"`
	Version        int                `json:"version"`
	Payment        *PaymentIntentRef  `json:"payment,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// PaymentIntentRef links a registration to the provider's payment intent.
type PaymentIntentRef struct {
	IntentID     string    `json:"intent_id"`
	ClientSecret string    `json:"-"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProcessedWebhookEvent records a provider event that has been applied (or
// deliberately discarded) so redeliveries are no-ops.
type ProcessedWebhookEvent struct {
	Provider        string    `json:"provider"`
	ProviderEventID string    `json:"provider_event_id"`
	EventType       string    `json:"event_type"`
	RegistrationID  *string   `json:"registration_id,omitempty"`
	Outcome         string    `json:"outcome"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// RegisterResponse is returned to the UI layer after a registration attempt.
type RegisterResponse struct {
	RegistrationID string             `json:"registration_id"`
	Status         RegistrationStatus `json:"status"`
	ClientSecret   string             `json:"client_secret,omitempty"`
}

// RegistrationDetail is a registration as shown to its owner. ClientSecret
// is set only while the registration is awaiting payment.
type RegistrationDetail struct {
	*Registration
	ClientSecret string `json:"client_secret,omitempty"`
}

// EventView is an event with its remaining capacity resolved.
type EventView struct {
	*Event
	Remaining int  `json:"remaining"`
	Unlimited bool `json:"unlimited"`
}

// CapacityResponse describes how many slots remain for an event.
type CapacityResponse struct {
	EventID   string `json:"event_id"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// RegisteredResponse answers whether the caller holds a live registration.
type RegisteredResponse struct {
	EventID    string `json:"event_id"`
	Registered bool   `json:"registered"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
