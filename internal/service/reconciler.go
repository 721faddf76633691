package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-registration/internal/clock"
	"github.com/Shivanand-hulikatti/event-registration/internal/logger"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payment"
	"go.uber.org/zap"
)

// Reconciliation outcomes stored on the processed-event record.
const (
	OutcomeApplied       = "applied"
	OutcomeDuplicate     = "duplicate"
	OutcomeUnknownIntent = "unknown_intent"
	OutcomeNoop          = "noop"
	OutcomeAnomaly       = "anomaly"
)

// Reconciler applies verified payment notifications to registrations. It is
// the only writer of the awaiting_payment -> confirmed|payment_failed edges.
type Reconciler struct {
	tx       TxRunner
	ledger   Ledger
	regs     RegistrationStore
	webhooks WebhookLog
	clock    clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// NewReconciler constructs a Reconciler.
func NewReconciler(
	tx TxRunner,
	ledger Ledger,
	regs RegistrationStore,
	webhooks WebhookLog,
	clk clock.Clock,
	log *zap.Logger,
	m *metrics.Metrics,
) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		tx:       tx,
		ledger:   ledger,
		regs:     regs,
		webhooks: webhooks,
		clock:    clk,
		log:      log.Named("reconciler"),
		metrics:  m,
	}
}

// HandleEvent applies n exactly once. The processed-event record, the
// registration transition, the slot release and the intent status update
// commit together; a returned error means nothing was applied and the
// provider should redeliver.
func (r *Reconciler) HandleEvent(ctx context.Context, n payment.Notification) (string, error) {
	if n.EventID == "" || n.IntentID == "" {
		return "", fmt.Errorf("%w: missing event or intent id", payment.ErrInvalidPayload)
	}

	log := r.log.With(
		zap.String("provider", n.Provider),
		zap.String("provider_event_id", n.EventID),
		zap.String("event_type", n.EventType),
		zap.String("intent_id", n.IntentID),
	)

	now := r.clock.Now()
	var (
		outcome  string
		from     model.RegistrationStatus
		to       model.RegistrationStatus
		released bool
		anomaly  string
		escalate bool
		regID    string
	)
	err := r.tx.WithTx(ctx, func(txCtx context.Context) error {
		inserted, err := r.webhooks.Record(txCtx, model.ProcessedWebhookEvent{
			Provider:        n.Provider,
			ProviderEventID: n.EventID,
			EventType:       n.EventType,
			Outcome:         "received",
			ProcessedAt:     now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			outcome = OutcomeDuplicate
			return nil
		}

		reg, err := r.regs.GetByIntentForUpdate(txCtx, n.IntentID)
		if errors.Is(err, model.ErrRegistrationNotFound) {
			outcome = OutcomeUnknownIntent
			return r.webhooks.SetOutcome(txCtx, n.Provider, n.EventID, nil, outcome)
		}
		if err != nil {
			return err
		}
		regID = reg.ID

		// A late failure never overwrites a succeeded intent.
		if reg.Status == model.StatusAwaitingPayment || n.Kind == payment.PaymentSucceeded {
			if err := r.regs.UpdateIntentStatus(txCtx, n.IntentID, intentStatus(n.Kind), now); err != nil {
				return err
			}
		}

		from = reg.Status
		switch {
		case reg.Status == model.StatusAwaitingPayment:
			to = model.StatusPaymentFailed
			if n.Kind == payment.PaymentSucceeded {
				to = model.StatusConfirmed
				if amountMismatch(n, reg.Payment) {
					anomaly = "amount_mismatch"
					escalate = true
				}
			}
			if err := transition(txCtx, r.regs, reg, to, now); err != nil {
				return err
			}
			if to != model.StatusConfirmed {
				if released, err = r.ledger.Release(txCtx, reg.ID); err != nil {
					return err
				}
			}
			outcome = OutcomeApplied

		case n.Kind == payment.PaymentSucceeded && reg.Status == model.StatusConfirmed:
			outcome = OutcomeNoop

		case n.Kind == payment.PaymentSucceeded:
			// Money moved for a registration that no longer holds a slot.
			outcome = OutcomeAnomaly
			anomaly = "charged_without_registration"
			escalate = true

		case reg.Status == model.StatusConfirmed:
			outcome = OutcomeAnomaly
			anomaly = "failure_after_confirmation"
			escalate = true

		default:
			outcome = OutcomeNoop
			anomaly = "terminal_transition"
		}

		return r.webhooks.SetOutcome(txCtx, n.Provider, n.EventID, &reg.ID, outcome)
	})
	if err != nil {
		r.metrics.WebhookEvent(string(n.Kind), "error")
		return "", fmt.Errorf("reconcile %s: %w", n.EventID, err)
	}

	r.metrics.WebhookEvent(string(n.Kind), outcome)
	if regID != "" {
		log = log.With(zap.String("registration_id", regID))
	}

	switch outcome {
	case OutcomeDuplicate:
		log.Info("webhook event already processed")
	case OutcomeUnknownIntent:
		log.Warn("webhook event for unknown payment intent discarded",
			logger.Anomaly("unknown_intent", false)...)
		r.metrics.Anomaly("unknown_intent", false)
	case OutcomeApplied:
		r.metrics.Transition(string(from), string(to))
		if released {
			r.metrics.SlotReleased(string(to))
		}
		log.Info("registration reconciled",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
	}

	if anomaly != "" {
		fields := append(logger.Anomaly(anomaly, escalate),
			zap.String("status", string(from)),
			zap.String("kind", string(n.Kind)),
			zap.Int64("amount", n.Amount),
			zap.String("currency", n.Currency),
		)
		if escalate {
			log.Error("payment notification conflicts with registration state", fields...)
		} else {
			log.Info("payment notification for terminal registration ignored", fields...)
		}
		r.metrics.Anomaly(anomaly, escalate)
	}
	return outcome, nil
}

// amountMismatch reports whether the provider charged something other than
// the intent that was created. Notifications without an amount are not checked.
func amountMismatch(n payment.Notification, ref *model.PaymentIntentRef) bool {
	if ref == nil || (n.Amount == 0 && n.Currency == "") {
		return false
	}
	return n.Amount != ref.Amount || !strings.EqualFold(n.Currency, ref.Currency)
}

func intentStatus(kind payment.NotificationKind) string {
	switch kind {
	case payment.PaymentSucceeded:
		return "succeeded"
	case payment.PaymentFailed:
		return "requires_payment_method"
	default:
		return "canceled"
	}
}
