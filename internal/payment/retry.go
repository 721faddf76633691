package payment

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/metrics"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy bounds how hard the gateway is retried on transient failures.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used for zero-valued fields.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     4,
		InitialInterval: 200 * time.Millisecond,
		MaxElapsed:      10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxElapsed <= 0 {
		p.MaxElapsed = d.MaxElapsed
	}
	return p
}

// RetryingGateway retries transient failures of the wrapped gateway with
// exponential backoff. Permanent failures are returned on the first attempt.
type RetryingGateway struct {
	next    Gateway
	policy  RetryPolicy
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewRetryingGateway wraps next with policy.
func NewRetryingGateway(next Gateway, policy RetryPolicy, log *zap.Logger, m *metrics.Metrics) *RetryingGateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryingGateway{
		next:    next,
		policy:  policy.withDefaults(),
		log:     log.Named("payment.gateway"),
		metrics: m,
	}
}

func (g *RetryingGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	return retry(ctx, g, "create_intent", func() (Intent, error) {
		return g.next.CreateIntent(ctx, req)
	})
}

func (g *RetryingGateway) CancelIntent(ctx context.Context, intentID string) error {
	_, err := retry(ctx, g, "cancel_intent", func() (struct{}, error) {
		return struct{}{}, g.next.CancelIntent(ctx, intentID)
	})
	return err
}

func retry[T any](ctx context.Context, g *RetryingGateway, operation string, call func() (T, error)) (T, error) {
	start := time.Now()
	attempt := 0

	op := func() (T, error) {
		attempt++
		res, err := call()
		if err != nil && !IsTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.policy.InitialInterval

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.policy.MaxAttempts),
		backoff.WithMaxElapsedTime(g.policy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			g.log.Warn("payment gateway call failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("next_in", next),
				zap.Error(err),
			)
		}),
	)

	outcome := "ok"
	switch {
	case err == nil:
	case IsTransient(err):
		outcome = "exhausted"
	default:
		outcome = "rejected"
	}
	g.metrics.GatewayCall(operation, outcome, time.Since(start))
	return res, err
}
