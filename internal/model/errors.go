package model

import "errors"

var (
	// ErrEventNotFound is returned when the event does not exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrEventNotOpen is returned when the event is not published.
	ErrEventNotOpen = errors.New("event is not open for registration")

	// ErrCapacityExceeded is returned when no capacity slot could be reserved.
	ErrCapacityExceeded = errors.New("event is fully booked")

	// ErrAlreadyRegistered is returned when the user already holds a live
	// registration for the event under a different idempotency key.
	ErrAlreadyRegistered = errors.New("user already registered for this event")

	// ErrRegistrationNotFound is returned when a registration does not exist
	// or is not visible to the caller.
	ErrRegistrationNotFound = errors.New("registration not found")

	// ErrInvalidTransition is returned when a state change is not allowed
	// from the registration's current status.
	ErrInvalidTransition = errors.New("invalid registration state transition")

	// ErrStaleRegistration is returned when a conditional update lost a race
	// with another writer.
	ErrStaleRegistration = errors.New("registration changed concurrently")

	// ErrPaymentUnavailable is returned when the payment intent could not be
	// created; the reserved slot has already been released.
	ErrPaymentUnavailable = errors.New("registration unavailable")

	// ErrIdempotencyKeyRequired is returned when a registration request has
	// no idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")

	// ErrIdempotencyReplay is returned by storage when an insert collides
	// with a registration created under the same idempotency key.
	ErrIdempotencyReplay = errors.New("idempotency key already used")

	// ErrUserRequired is returned when no user identity accompanies a request.
	ErrUserRequired = errors.New("user identity required")
)
