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

// RegistrationService drives the registration state machine for user
// requests: registering, resuming payment and canceling.
type RegistrationService struct {
	tx      TxRunner
	events  EventStore
	ledger  Ledger
	regs    RegistrationStore
	gateway payment.Gateway
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRegistrationService constructs a RegistrationService. gateway may be nil
// when no provider is configured; priced events then fail to register.
func NewRegistrationService(
	tx TxRunner,
	events EventStore,
	ledger Ledger,
	regs RegistrationStore,
	gateway payment.Gateway,
	clk clock.Clock,
	log *zap.Logger,
	m *metrics.Metrics,
) *RegistrationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RegistrationService{
		tx:      tx,
		events:  events,
		ledger:  ledger,
		regs:    regs,
		gateway: gateway,
		clock:   clk,
		log:     log.Named("registration"),
		metrics: m,
	}
}

// RegisterInput is one registration attempt.
type RegisterInput struct {
	EventID        string
	UserID         string
	IdempotencyKey string
}

// RegisterResult is the outcome of a registration attempt. Replayed is true
// when the idempotency key matched an earlier attempt.
type RegisterResult struct {
	Registration *model.Registration
	ClientSecret string
	Replayed     bool
}

// Response renders the result for the UI layer.
func (r RegisterResult) Response() model.RegisterResponse {
	return model.RegisterResponse{
		RegistrationID: r.Registration.ID,
		Status:         r.Registration.Status,
		ClientSecret:   r.ClientSecret,
	}
}

// Register reserves a slot and creates a registration. Free events are
// confirmed in the same transaction; priced events get a payment intent
// created after the reservation commits.
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	if in.UserID == "" {
		return RegisterResult{}, model.ErrUserRequired
	}
	if in.IdempotencyKey == "" {
		return RegisterResult{}, model.ErrIdempotencyKeyRequired
	}

	existing, err := s.regs.FindByIdempotencyKey(ctx, in.EventID, in.UserID, in.IdempotencyKey)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("find by idempotency key: %w", err)
	}
	if existing != nil {
		return s.replay(ctx, existing)
	}

	event, err := s.events.GetByID(ctx, in.EventID)
	if err != nil {
		return RegisterResult{}, err
	}
	if !event.IsOpen() {
		s.metrics.RegistrationOutcome("event_not_open")
		return RegisterResult{}, model.ErrEventNotOpen
	}

	now := s.clock.Now()
	reg := &model.Registration{
		ID:             newID(),
		EventID:        event.ID,
		UserID:         in.UserID,
		Status:         model.StatusPending,
		HoldsSlot:      true,
		IdempotencyKey: in.IdempotencyKey,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		live, err := s.regs.FindLive(txCtx, event.ID, in.UserID)
		if err != nil {
			return err
		}
		if live != nil {
			if live.IdempotencyKey == in.IdempotencyKey {
				return model.ErrIdempotencyReplay
			}
			return model.ErrAlreadyRegistered
		}

		granted, err := s.ledger.TryReserve(txCtx, event.ID)
		if err != nil {
			return err
		}
		if !granted {
			return model.ErrCapacityExceeded
		}

		if err := s.regs.Insert(txCtx, reg); err != nil {
			return err
		}
		if event.IsFree() {
			return transition(txCtx, s.regs, reg, model.StatusConfirmed, now)
		}
		return nil
	})
	if errors.Is(err, model.ErrIdempotencyReplay) || errors.Is(err, model.ErrAlreadyRegistered) {
		// A concurrent request with the same key may have won the insert;
		// Postgres can report either unique index for that collision.
		existing, findErr := s.regs.FindByIdempotencyKey(ctx, in.EventID, in.UserID, in.IdempotencyKey)
		if findErr != nil {
			return RegisterResult{}, fmt.Errorf("find by idempotency key: %w", findErr)
		}
		if existing != nil {
			return s.replay(ctx, existing)
		}
	}
	switch {
	case errors.Is(err, model.ErrCapacityExceeded):
		s.metrics.RegistrationOutcome("capacity_exceeded")
		return RegisterResult{}, err
	case errors.Is(err, model.ErrAlreadyRegistered):
		s.metrics.RegistrationOutcome("already_registered")
		return RegisterResult{}, err
	case errors.Is(err, model.ErrIdempotencyReplay):
		return RegisterResult{}, fmt.Errorf("registration for idempotency key vanished: %w", err)
	case err != nil:
		return RegisterResult{}, fmt.Errorf("reserve registration: %w", err)
	}

	if reg.Status == model.StatusConfirmed {
		s.metrics.RegistrationOutcome("confirmed")
		s.metrics.Transition(string(model.StatusPending), string(model.StatusConfirmed))
		s.log.Info("registration confirmed",
			zap.String("registration_id", reg.ID),
			zap.String("event_id", reg.EventID),
		)
		return RegisterResult{Registration: reg}, nil
	}

	return s.startPayment(ctx, event, reg, false)
}

// replay answers a request whose idempotency key matched an existing
// registration. A registration left in pending resumes intent creation.
func (s *RegistrationService) replay(ctx context.Context, reg *model.Registration) (RegisterResult, error) {
	s.metrics.RegistrationOutcome("replayed")

	if reg.Status == model.StatusPending {
		event, err := s.events.GetByID(ctx, reg.EventID)
		if err != nil {
			return RegisterResult{}, err
		}
		if event.IsFree() {
			// Free registrations commit as confirmed; pending here means the
			// first attempt is still in flight.
			return RegisterResult{Registration: reg, Replayed: true}, nil
		}
		return s.startPayment(ctx, event, reg, true)
	}

	return resultFor(reg, true), nil
}

// resultFor answers with reg as stored, exposing the client secret only while
// it is awaiting payment.
func resultFor(reg *model.Registration, replayed bool) RegisterResult {
	res := RegisterResult{Registration: reg, Replayed: replayed}
	if reg.Status == model.StatusAwaitingPayment && reg.Payment != nil {
		res.ClientSecret = reg.Payment.ClientSecret
	}
	return res
}

// startPayment creates the provider intent for a pending registration and
// moves it to awaiting_payment. The registration id is the provider
// idempotency key, so a resumed attempt gets the same intent back.
func (s *RegistrationService) startPayment(ctx context.Context, event *model.Event, reg *model.Registration, replayed bool) (RegisterResult, error) {
	log := s.log.With(zap.String("registration_id", reg.ID), zap.String("event_id", event.ID))

	gateway := s.gateway
	if gateway == nil {
		return s.failPending(ctx, reg.ID, replayed, payment.ErrNotConfigured)
	}

	intent, err := gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:         event.PriceAmount,
		Currency:       event.PriceCurrency,
		IdempotencyKey: reg.ID,
		Metadata: map[string]string{
			"event_id":        event.ID,
			"registration_id": reg.ID,
		},
	})
	if err != nil {
		log.Warn("payment intent creation failed", zap.Error(err))
		return s.failPending(ctx, reg.ID, replayed, err)
	}

	now := s.clock.Now()
	var (
		current      *model.Registration
		cancelIntent bool
	)
	err = s.tx.WithTx(ctx, func(txCtx context.Context) error {
		cur, err := s.regs.GetForUpdate(txCtx, reg.ID)
		if err != nil {
			return err
		}
		current = cur

		if cur.Payment == nil {
			ref := model.PaymentIntentRef{
				IntentID:     intent.ID,
				ClientSecret: intent.ClientSecret,
				Status:       intent.Status,
				Amount:       intent.Amount,
				Currency:     intent.Currency,
				UpdatedAt:    now,
			}
			if err := s.regs.AttachIntent(txCtx, cur.ID, ref); err != nil {
				return err
			}
			cur.Payment = &ref
		}

		switch cur.Status {
		case model.StatusPending:
			return transition(txCtx, s.regs, cur, model.StatusAwaitingPayment, now)
		case model.StatusAwaitingPayment:
			// A concurrent replay linked the intent first.
			return nil
		default:
			cancelIntent = cur.Status != model.StatusConfirmed
			return nil
		}
	})
	if err != nil {
		// The slot stays held; the sweep expires the pending row if no
		// replay resumes it.
		return RegisterResult{}, fmt.Errorf("link payment intent: %w", err)
	}

	if cancelIntent {
		log.Warn("payment intent created for a registration that is no longer pending",
			append(logger.Anomaly("intent_for_inactive_registration", false),
				zap.String("status", string(current.Status)))...,
		)
		s.metrics.Anomaly("intent_for_inactive_registration", false)
		s.cancelIntentBestEffort(ctx, intent.ID, log)
		return RegisterResult{Registration: current, Replayed: replayed}, nil
	}

	if current.Status == model.StatusAwaitingPayment && !replayed {
		s.metrics.RegistrationOutcome("awaiting_payment")
		s.metrics.Transition(string(model.StatusPending), string(model.StatusAwaitingPayment))
	}
	log.Info("registration awaiting payment", zap.String("intent_id", current.Payment.IntentID))

	return resultFor(current, replayed), nil
}

// failPending is the compensating transaction for a failed intent creation:
// the registration becomes payment_failed and its slot is released. When a
// concurrent replay already moved the registration on, nothing is compensated
// and the request is answered with the registration as stored.
func (s *RegistrationService) failPending(ctx context.Context, registrationID string, replayed bool, cause error) (RegisterResult, error) {
	now := s.clock.Now()
	var (
		current  *model.Registration
		applied  bool
		released bool
	)
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		cur, err := s.regs.GetForUpdate(txCtx, registrationID)
		if err != nil {
			return err
		}
		current = cur
		if cur.Status != model.StatusPending {
			return nil
		}
		if err := transition(txCtx, s.regs, cur, model.StatusPaymentFailed, now); err != nil {
			return err
		}
		applied = true
		released, err = s.ledger.Release(txCtx, cur.ID)
		return err
	})
	if err != nil {
		s.log.Error("compensation failed, pending registration left for the sweep",
			append(logger.Anomaly("compensation_failed", true),
				zap.String("registration_id", registrationID),
				zap.Error(err))...,
		)
		s.metrics.Anomaly("compensation_failed", true)
		s.metrics.RegistrationOutcome("payment_unavailable")
		return RegisterResult{}, fmt.Errorf("%w: %w", model.ErrPaymentUnavailable, cause)
	}

	if !applied {
		s.log.Info("payment intent creation failed after the registration was linked elsewhere",
			zap.String("registration_id", registrationID),
			zap.String("status", string(current.Status)),
			zap.Error(cause),
		)
		return resultFor(current, replayed), nil
	}

	s.metrics.Transition(string(model.StatusPending), string(model.StatusPaymentFailed))
	if released {
		s.metrics.SlotReleased("payment_unavailable")
	}
	s.metrics.RegistrationOutcome("payment_unavailable")
	return RegisterResult{}, fmt.Errorf("%w: %w", model.ErrPaymentUnavailable, cause)
}

// Cancel withdraws a pending or awaiting_payment registration owned by
// userID and releases its slot. An open payment intent is canceled at the
// provider after the transaction commits.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID, userID string) (*model.Registration, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, model.ErrUserRequired
	}

	now := s.clock.Now()
	var (
		reg      *model.Registration
		from     model.RegistrationStatus
		released bool
	)
	err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
		cur, err := s.regs.GetForUpdate(txCtx, registrationID)
		if err != nil {
			return err
		}
		if cur.UserID != userID {
			return model.ErrRegistrationNotFound
		}
		if cur.Status.IsTerminal() {
			s.log.Info("cancel rejected for terminal registration",
				append(logger.Anomaly("terminal_transition", false),
					zap.String("registration_id", cur.ID),
					zap.String("status", string(cur.Status)))...,
			)
			s.metrics.Anomaly("terminal_transition", false)
			return model.ErrInvalidTransition
		}

		from = cur.Status
		if err := transition(txCtx, s.regs, cur, model.StatusCanceled, now); err != nil {
			return err
		}
		released, err = s.ledger.Release(txCtx, cur.ID)
		if err != nil {
			return err
		}
		reg = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transition(string(from), string(model.StatusCanceled))
	if released {
		s.metrics.SlotReleased("canceled")
	}
	log := s.log.With(zap.String("registration_id", reg.ID))
	log.Info("registration canceled", zap.String("from", string(from)))

	if from == model.StatusAwaitingPayment && reg.Payment != nil {
		s.cancelIntentBestEffort(ctx, reg.Payment.IntentID, log)
	}
	return reg, nil
}

// Get returns the caller's registration, with the client secret while it is
// awaiting payment.
func (s *RegistrationService) Get(ctx context.Context, registrationID, userID string) (model.RegistrationDetail, error) {
	reg, err := s.regs.Get(ctx, registrationID)
	if err != nil {
		return model.RegistrationDetail{}, err
	}
	if reg.UserID != userID {
		return model.RegistrationDetail{}, model.ErrRegistrationNotFound
	}
	detail := model.RegistrationDetail{Registration: reg}
	if reg.Status == model.StatusAwaitingPayment && reg.Payment != nil {
		detail.ClientSecret = reg.Payment.ClientSecret
	}
	return detail, nil
}

func (s *RegistrationService) cancelIntentBestEffort(ctx context.Context, intentID string, log *zap.Logger) {
	if s.gateway == nil {
		return
	}
	if err := s.gateway.CancelIntent(ctx, intentID); err != nil {
		log.Warn("cancel payment intent failed", zap.String("intent_id", intentID), zap.Error(err))
	}
}
