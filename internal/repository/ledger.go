package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository is the capacity ledger: events.held_count is the number of
// registrations holding a slot, and it only changes through the two
// statements below.
type LedgerRepository struct {
	db *pgxpool.Pool
}

// NewLedgerRepository constructs a LedgerRepository.
func NewLedgerRepository(db *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// TryReserve takes one slot for the event if one is free.
//
// The availability check and the increment are a single conditional UPDATE,
// so Postgres serialises concurrent callers on the event row and re-evaluates
// the WHERE clause against the committed count:
//
//	A: UPDATE ... WHERE held_count < capacity   → 9 < 10, held_count = 10
//	B: UPDATE ... (blocks on A's row lock)
//	A: COMMIT
//	B: re-checks 10 < 10 → no row → denied
//
// A NULL capacity always grants; a capacity of 0 always denies.
func (r *LedgerRepository) TryReserve(ctx context.Context, eventID string) (bool, error) {
	var id string
	err := conn(ctx, r.db).QueryRow(ctx,
		`UPDATE events
		 SET held_count = held_count + 1
		 WHERE id = $1
		   AND (capacity IS NULL OR held_count < capacity)
		 RETURNING id`,
		eventID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("reserve slot: %w", err)
	}
	return true, nil
}

// Release returns the slot owned by a registration. The slot-ownership flag
// is cleared and the counter decremented in one statement, and only when
// the flag was set, so releasing the same registration twice decrements once.
func (r *LedgerRepository) Release(ctx context.Context, registrationID string) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`WITH freed AS (
			UPDATE registrations
			SET holds_slot = FALSE
			WHERE id = $1 AND holds_slot
			RETURNING event_id
		 )
		 UPDATE events e
		 SET held_count = e.held_count - 1
		 FROM freed
		 WHERE e.id = freed.event_id`,
		registrationID,
	)
	if err != nil {
		return false, fmt.Errorf("release slot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
