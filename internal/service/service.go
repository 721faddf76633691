// Package service implements registration business logic: the registration
// state machine, webhook reconciliation, read queries and the expiry sweep.
// Storage is reached through the small interfaces below so the logic can be
// exercised without Postgres.
package service

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/google/uuid"
)

// TxRunner runs fn in one database transaction. Stores called with the
// context passed to fn take part in it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventStore reads the registration-relevant view of events.
type EventStore interface {
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
}

// Ledger is the capacity ledger.
type Ledger interface {
	TryReserve(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, registrationID string) (bool, error)
}

// RegistrationStore persists registrations and their payment references.
type RegistrationStore interface {
	Insert(ctx context.Context, reg *model.Registration) error
	Get(ctx context.Context, id string) (*model.Registration, error)
	GetForUpdate(ctx context.Context, id string) (*model.Registration, error)
	GetByIntentForUpdate(ctx context.Context, intentID string) (*model.Registration, error)
	FindByIdempotencyKey(ctx context.Context, eventID, userID, key string) (*model.Registration, error)
	FindLive(ctx context.Context, eventID, userID string) (*model.Registration, error)
	UpdateStatus(ctx context.Context, id string, from model.RegistrationStatus, version int, to model.RegistrationStatus, now time.Time) (int, error)
	AttachIntent(ctx context.Context, registrationID string, ref model.PaymentIntentRef) error
	UpdateIntentStatus(ctx context.Context, intentID, status string, now time.Time) error
	ClaimStale(ctx context.Context, status model.RegistrationStatus, cutoff time.Time, limit int) ([]model.Registration, error)
	ClearIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error)
	IsRegistered(ctx context.Context, eventID, userID string) (bool, error)
}

// WebhookLog records processed provider events.
type WebhookLog interface {
	Record(ctx context.Context, ev model.ProcessedWebhookEvent) (bool, error)
	SetOutcome(ctx context.Context, provider, providerEventID string, registrationID *string, outcome string) error
}

// Locker is a cross-instance mutual exclusion lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

func newID() string {
	return uuid.NewString()
}

// transition moves reg from its current status to `to` and updates reg in
// place. The caller must hold the row lock.
func transition(ctx context.Context, regs RegistrationStore, reg *model.Registration, to model.RegistrationStatus, now time.Time) error {
	version, err := regs.UpdateStatus(ctx, reg.ID, reg.Status, reg.Version, to, now)
	if err != nil {
		return err
	}
	reg.Status = to
	reg.Version = version
	reg.UpdatedAt = now
	return nil
}
