package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const eventColumns = `id, name, status, capacity, held_count, price_amount, price_currency, created_at`

// EventRepository reads events owned by the content side. The only column
// this service writes is held_count, and only through LedgerRepository.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// List returns published and ended events ordered by creation time descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		`SELECT `+eventColumns+`
		 FROM events
		 WHERE status <> 'draft'
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or model.ErrEventNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	row := conn(ctx, r.db).QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrEventNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.Status, &e.Capacity, &e.HeldCount, &e.PriceAmount, &e.PriceCurrency, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	return &e, nil
}
