package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/clock"
	"github.com/Shivanand-hulikatti/event-registration/internal/logger"
	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payment"
	"go.uber.org/zap"
)

const sweepLockKey = "event-registration:sweep"

// SweepConfig bounds the expiry sweep.
type SweepConfig struct {
	Interval                time.Duration
	BatchSize               int
	CheckoutTTL             time.Duration
	PendingTimeout          time.Duration
	IdempotencyKeyRetention time.Duration
	LockTTL                 time.Duration
}

// SweepResult counts what one sweep changed.
type SweepResult struct {
	ExpiredAwaiting int
	ExpiredPending  int
	ClearedKeys     int64
}

// Sweeper expires registrations that never finished checkout and forgets
// idempotency keys of dead registrations.
type Sweeper struct {
	tx      TxRunner
	ledger  Ledger
	regs    RegistrationStore
	gateway payment.Gateway
	locker  Locker
	cfg     SweepConfig
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewSweeper constructs a Sweeper. gateway and locker may be nil.
func NewSweeper(
	tx TxRunner,
	ledger Ledger,
	regs RegistrationStore,
	gateway payment.Gateway,
	locker Locker,
	cfg SweepConfig,
	clk clock.Clock,
	log *zap.Logger,
	m *metrics.Metrics,
) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &Sweeper{
		tx:      tx,
		ledger:  ledger,
		regs:    regs,
		gateway: gateway,
		locker:  locker,
		cfg:     cfg,
		clock:   clk,
		log:     log.Named("sweeper"),
		metrics: m,
	}
}

// Run sweeps every cfg.Interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, s.cfg.LockTTL)
		if err != nil {
			// SKIP LOCKED claims keep concurrent sweeps safe without the lock.
			s.log.Warn("sweep lock unavailable, sweeping anyway", zap.Error(err))
		} else if !ok {
			s.metrics.SweepRun("skipped")
			return
		} else {
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
					s.log.Warn("release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	res, err := s.Sweep(ctx)
	if err != nil {
		s.metrics.SweepRun("error")
		s.log.Error("sweep failed", zap.Error(err))
		return
	}
	s.metrics.SweepRun("ok")
	if res.ExpiredAwaiting+res.ExpiredPending > 0 || res.ClearedKeys > 0 {
		s.log.Info("sweep finished",
			zap.Int("expired_awaiting_payment", res.ExpiredAwaiting),
			zap.Int("expired_pending", res.ExpiredPending),
			zap.Int64("cleared_idempotency_keys", res.ClearedKeys),
		)
	}
}

// Sweep runs one pass: awaiting_payment rows past the checkout TTL and
// pending rows past the pending timeout become expired and release their
// slots, then stale idempotency keys are cleared.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := s.clock.Now()

	n, err := s.expire(ctx, model.StatusAwaitingPayment, now.Add(-s.cfg.CheckoutTTL))
	res.ExpiredAwaiting = n
	if err != nil {
		return res, err
	}

	n, err = s.expire(ctx, model.StatusPending, now.Add(-s.cfg.PendingTimeout))
	res.ExpiredPending = n
	if err != nil {
		return res, err
	}

	if s.cfg.IdempotencyKeyRetention > 0 {
		cleared, err := s.regs.ClearIdempotencyKeys(ctx, now.Add(-s.cfg.IdempotencyKeyRetention))
		if err != nil {
			return res, err
		}
		res.ClearedKeys = cleared
	}
	return res, nil
}

// expire drains registrations in status older than cutoff, one batch per
// transaction.
func (s *Sweeper) expire(ctx context.Context, status model.RegistrationStatus, cutoff time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		now := s.clock.Now()
		var (
			expired  []model.Registration
			released int
			claimed  int
		)
		err := s.tx.WithTx(ctx, func(txCtx context.Context) error {
			regs, err := s.regs.ClaimStale(txCtx, status, cutoff, s.cfg.BatchSize)
			if err != nil {
				return err
			}
			claimed = len(regs)
			for i := range regs {
				reg := &regs[i]
				if err := transition(txCtx, s.regs, reg, model.StatusExpired, now); err != nil {
					return err
				}
				ok, err := s.ledger.Release(txCtx, reg.ID)
				if err != nil {
					return err
				}
				if ok {
					released++
				}
				expired = append(expired, *reg)
			}
			return nil
		})
		if err != nil {
			return total, fmt.Errorf("expire %s registrations: %w", status, err)
		}

		total += len(expired)
		for i := range expired {
			s.afterExpiry(ctx, status, &expired[i])
		}
		for range released {
			s.metrics.SlotReleased("expired")
		}

		if claimed < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *Sweeper) afterExpiry(ctx context.Context, from model.RegistrationStatus, reg *model.Registration) {
	s.metrics.Transition(string(from), string(model.StatusExpired))
	log := s.log.With(
		zap.String("registration_id", reg.ID),
		zap.String("event_id", reg.EventID),
	)

	if from == model.StatusPending {
		// The registering request died between the reservation and linking
		// its payment intent.
		log.Error("stuck pending registration expired", logger.Anomaly("stuck_pending", true)...)
		s.metrics.Anomaly("stuck_pending", true)
	} else {
		log.Info("registration expired")
	}

	if reg.Payment == nil || s.gateway == nil {
		return
	}
	if err := s.gateway.CancelIntent(ctx, reg.Payment.IntentID); err != nil {
		log.Warn("cancel expired payment intent failed",
			zap.String("intent_id", reg.Payment.IntentID),
			zap.Error(err),
		)
	}
}
