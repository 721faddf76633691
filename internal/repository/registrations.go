package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const registrationSelect = `
SELECT r.id, r.event_id, r.user_id, r.status, r.holds_slot,
       COALESCE(r.idempotency_key, ''), r.version, r.created_at, r.updated_at,
       p.intent_id, p.client_secret, p.status, p.amount, p.currency, p.updated_at
FROM registrations r
LEFT JOIN payment_intents p ON p.registration_id = r.id`

// RegistrationRepository handles persistence for registrations and their
// payment intent references.
type RegistrationRepository struct {
	db *pgxpool.Pool
}

// NewRegistrationRepository constructs a RegistrationRepository.
func NewRegistrationRepository(db *pgxpool.Pool) *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

// Insert creates a registration row. A collision on the idempotency key
// returns model.ErrIdempotencyReplay; a second live registration for the same
// (event, user) returns model.ErrAlreadyRegistered.
func (r *RegistrationRepository) Insert(ctx context.Context, reg *model.Registration) error {
	var key *string
	if reg.IdempotencyKey != "" {
		key = &reg.IdempotencyKey
	}
	_, err := conn(ctx, r.db).Exec(ctx,
		`INSERT INTO registrations
		   (id, event_id, user_id, status, holds_slot, idempotency_key, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		reg.ID, reg.EventID, reg.UserID, string(reg.Status), reg.HoldsSlot, key,
		reg.Version, reg.CreatedAt, reg.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			switch constraint {
			case uniqueIdempotencyKey:
				return model.ErrIdempotencyReplay
			case uniqueLiveRegistration:
				return model.ErrAlreadyRegistered
			}
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// Get returns a registration with its payment reference.
func (r *RegistrationRepository) Get(ctx context.Context, id string) (*model.Registration, error) {
	return r.one(ctx, registrationSelect+` WHERE r.id = $1`, id)
}

// GetForUpdate is Get with a row lock held until the surrounding transaction ends.
func (r *RegistrationRepository) GetForUpdate(ctx context.Context, id string) (*model.Registration, error) {
	return r.one(ctx, registrationSelect+` WHERE r.id = $1 FOR UPDATE OF r`, id)
}

// GetByIntentForUpdate resolves and locks the registration owning a payment intent.
func (r *RegistrationRepository) GetByIntentForUpdate(ctx context.Context, intentID string) (*model.Registration, error) {
	return r.one(ctx, registrationSelect+` WHERE p.intent_id = $1 FOR UPDATE OF r`, intentID)
}

// FindByIdempotencyKey returns the registration created under key, or nil.
func (r *RegistrationRepository) FindByIdempotencyKey(ctx context.Context, eventID, userID, key string) (*model.Registration, error) {
	reg, err := r.one(ctx,
		registrationSelect+` WHERE r.event_id = $1 AND r.user_id = $2 AND r.idempotency_key = $3`,
		eventID, userID, key,
	)
	if errors.Is(err, model.ErrRegistrationNotFound) {
		return nil, nil
	}
	return reg, err
}

// FindLive returns the user's pending, awaiting_payment or confirmed
// registration for the event, or nil.
func (r *RegistrationRepository) FindLive(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	reg, err := r.one(ctx,
		registrationSelect+` WHERE r.event_id = $1 AND r.user_id = $2 AND r.status = ANY($3)`,
		eventID, userID, liveStatuses(),
	)
	if errors.Is(err, model.ErrRegistrationNotFound) {
		return nil, nil
	}
	return reg, err
}

// UpdateStatus moves a registration from one status to another, guarded by
// both the expected status and version. It returns the new version, or
// model.ErrStaleRegistration when another writer got there first.
func (r *RegistrationRepository) UpdateStatus(ctx context.Context, id string, from model.RegistrationStatus, version int, to model.RegistrationStatus, now time.Time) (int, error) {
	var next int
	err := conn(ctx, r.db).QueryRow(ctx,
		`UPDATE registrations
		 SET status = $4, version = version + 1, updated_at = $5
		 WHERE id = $1 AND status = $2 AND version = $3
		 RETURNING version`,
		id, string(from), version, string(to), now,
	).Scan(&next)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrStaleRegistration
		}
		return 0, fmt.Errorf("update registration status: %w", err)
	}
	return next, nil
}

// AttachIntent stores the payment intent reference for a registration.
func (r *RegistrationRepository) AttachIntent(ctx context.Context, registrationID string, ref model.PaymentIntentRef) error {
	_, err := conn(ctx, r.db).Exec(ctx,
		`INSERT INTO payment_intents
		   (registration_id, intent_id, client_secret, status, amount, currency, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		registrationID, ref.IntentID, ref.ClientSecret, ref.Status, ref.Amount, ref.Currency, ref.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("attach payment intent: %w", err)
	}
	return nil
}

// UpdateIntentStatus records the last provider status seen for an intent.
func (r *RegistrationRepository) UpdateIntentStatus(ctx context.Context, intentID, status string, now time.Time) error {
	_, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE payment_intents SET status = $2, updated_at = $3 WHERE intent_id = $1`,
		intentID, status, now,
	)
	if err != nil {
		return fmt.Errorf("update payment intent status: %w", err)
	}
	return nil
}

// ClaimStale locks up to limit registrations in status whose last update is
// before cutoff. Rows locked by another sweeper are skipped.
func (r *RegistrationRepository) ClaimStale(ctx context.Context, status model.RegistrationStatus, cutoff time.Time, limit int) ([]model.Registration, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		registrationSelect+`
		 WHERE r.status = $1 AND r.updated_at < $2
		 ORDER BY r.updated_at
		 LIMIT $3
		 FOR UPDATE OF r SKIP LOCKED`,
		string(status), cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim stale registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		regs = append(regs, *reg)
	}
	return regs, rows.Err()
}

// ClearIdempotencyKeys forgets the keys of failed, expired and canceled
// registrations last updated before cutoff, so those keys may be reused.
func (r *RegistrationRepository) ClearIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE registrations
		 SET idempotency_key = NULL
		 WHERE idempotency_key IS NOT NULL
		   AND status IN ('payment_failed', 'expired', 'canceled')
		   AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("clear idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IsRegistered reports whether the user has a live registration for the event.
func (r *RegistrationRepository) IsRegistered(ctx context.Context, eventID, userID string) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM registrations
			WHERE event_id = $1 AND user_id = $2 AND status = ANY($3)
		 )`,
		eventID, userID, liveStatuses(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check registration: %w", err)
	}
	return exists, nil
}

func (r *RegistrationRepository) one(ctx context.Context, sql string, args ...any) (*model.Registration, error) {
	reg, err := scanRegistration(conn(ctx, r.db).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRegistrationNotFound
		}
		return nil, err
	}
	return reg, nil
}

func scanRegistration(row pgx.Row) (*model.Registration, error) {
	var (
		reg           model.Registration
		status        string
		intentID      *string
		clientSecret  *string
		intentStatus  *string
		amount        *int64
		currency      *string
		intentUpdated *time.Time
	)
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.UserID, &status, &reg.HoldsSlot,
		&reg.IdempotencyKey, &reg.Version, &reg.CreatedAt, &reg.UpdatedAt,
		&intentID, &clientSecret, &intentStatus, &amount, &currency, &intentUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg.Status = model.RegistrationStatus(status)

	if intentID != nil {
		reg.Payment = &model.PaymentIntentRef{
			IntentID:     *intentID,
			ClientSecret: deref(clientSecret),
			Status:       deref(intentStatus),
			Currency:     deref(currency),
		}
		if amount != nil {
			reg.Payment.Amount = *amount
		}
		if intentUpdated != nil {
			reg.Payment.UpdatedAt = *intentUpdated
		}
	}
	return &reg, nil
}

func liveStatuses() []string {
	out := make([]string, 0, len(model.LiveStatuses))
	for _, s := range model.LiveStatuses {
		out = append(out, string(s))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
