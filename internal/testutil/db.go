// Package testutil holds helpers for tests that need a real Postgres.
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

const testDBLockID int64 = 580117402

// NewTestPool connects to TEST_DATABASE_URL, applies the migrations and holds
// an advisory lock so packages sharing the database do not interleave. The
// test is skipped when no database is configured or reachable.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	cfg.MaxConns = 16

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration tests: %v", err)
	}
	t.Cleanup(pool.Close)

	lockTestDB(t, pool)

	if err := database.Migrate(migrateURL(dsn)); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return pool
}

// TruncateAll empties every table.
func TruncateAll(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(ctx, `TRUNCATE processed_webhook_events, payment_intents, registrations, events CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

// InsertEvent creates a published event. A nil capacity means unlimited.
func InsertEvent(t *testing.T, ctx context.Context, pool *pgxpool.Pool, id string, capacity *int, price int64) {
	t.Helper()
	currency := ""
	if price > 0 {
		currency = "eur"
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO events (id, name, status, capacity, price_amount, price_currency)
		 VALUES ($1, $2, 'published', $3, $4, $5)`,
		id, "Event "+id, capacity, price, currency,
	)
	if err != nil {
		t.Fatalf("insert event: %v", err)
	}
}

// HeldCount reads the ledger counter for an event.
func HeldCount(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventID string) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, `SELECT held_count FROM events WHERE id = $1`, eventID).Scan(&n); err != nil {
		t.Fatalf("read held_count: %v", err)
	}
	return n
}

func migrateURL(dsn string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}

func lockTestDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire lock conn: %v", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, testDBLockID); err != nil {
		conn.Release()
		t.Fatalf("acquire test lock: %v", err)
	}

	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, testDBLockID)
		conn.Release()
	})
}
