package repository

import (
	"context"
	"fmt"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepository records processed provider events.
type WebhookRepository struct {
	db *pgxpool.Pool
}

// NewWebhookRepository constructs a WebhookRepository.
func NewWebhookRepository(db *pgxpool.Pool) *WebhookRepository {
	return &WebhookRepository{db: db}
}

// Record inserts the processed-event marker and reports whether this call
// inserted it. Inside a transaction a concurrent delivery of the same event
// blocks on the primary key until the first one commits or rolls back.
func (r *WebhookRepository) Record(ctx context.Context, ev model.ProcessedWebhookEvent) (bool, error) {
	tag, err := conn(ctx, r.db).Exec(ctx,
		`INSERT INTO processed_webhook_events
		   (provider, provider_event_id, event_type, registration_id, outcome, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.Provider, ev.ProviderEventID, ev.EventType, ev.RegistrationID, ev.Outcome, ev.ProcessedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetOutcome stores how a recorded event was resolved.
func (r *WebhookRepository) SetOutcome(ctx context.Context, provider, providerEventID string, registrationID *string, outcome string) error {
	_, err := conn(ctx, r.db).Exec(ctx,
		`UPDATE processed_webhook_events
		 SET registration_id = $3, outcome = $4
		 WHERE provider = $1 AND provider_event_id = $2`,
		provider, providerEventID, registrationID, outcome,
	)
	if err != nil {
		return fmt.Errorf("set webhook outcome: %w", err)
	}
	return nil
}
