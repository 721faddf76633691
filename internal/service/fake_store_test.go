package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
	"github.com/Shivanand-hulikatti/event-registration/internal/payment"
)

type fakeTxKey struct{}

// fakeStore is an in-memory stand-in for the Postgres repositories. A
// transaction holds the store mutex for its whole duration and restores a
// snapshot when it fails, which gives the same all-or-nothing and
// serialised-writer behaviour the services rely on.
type fakeStore struct {
	mu       sync.Mutex
	events   map[string]model.Event
	regs     map[string]model.Registration
	intents  map[string]model.PaymentIntentRef // by registration id
	webhooks map[string]model.ProcessedWebhookEvent

	failUpdateStatus error
}

func newFakeStore(events ...model.Event) *fakeStore {
	s := &fakeStore{
		events:   map[string]model.Event{},
		regs:     map[string]model.Registration{},
		intents:  map[string]model.PaymentIntentRef{},
		webhooks: map[string]model.ProcessedWebhookEvent{},
	}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) lock(ctx context.Context) func() {
	if ctx.Value(fakeTxKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type fakeSnapshot struct {
	events   map[string]model.Event
	regs     map[string]model.Registration
	intents  map[string]model.PaymentIntentRef
	webhooks map[string]model.ProcessedWebhookEvent
}

func (s *fakeStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		events:   make(map[string]model.Event, len(s.events)),
		regs:     make(map[string]model.Registration, len(s.regs)),
		intents:  make(map[string]model.PaymentIntentRef, len(s.intents)),
		webhooks: make(map[string]model.ProcessedWebhookEvent, len(s.webhooks)),
	}
	for k, v := range s.events {
		snap.events[k] = v
	}
	for k, v := range s.regs {
		snap.regs[k] = v
	}
	for k, v := range s.intents {
		snap.intents[k] = v
	}
	for k, v := range s.webhooks {
		snap.webhooks[k] = v
	}
	return snap
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, fakeTxKey{}, true)); err != nil {
		s.events, s.regs, s.intents, s.webhooks = snap.events, snap.regs, snap.intents, snap.webhooks
		return err
	}
	return nil
}

// EventStore

func (s *fakeStore) List(ctx context.Context) ([]model.Event, error) {
	defer s.lock(ctx)()
	var out []model.Event
	for _, e := range s.events {
		if e.Status != model.EventDraft {
			out = append(out, s.copyEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*model.Event, error) {
	defer s.lock(ctx)()
	e, ok := s.events[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}
	c := s.copyEvent(e)
	return &c, nil
}

func (s *fakeStore) copyEvent(e model.Event) model.Event {
	if e.Capacity != nil {
		c := *e.Capacity
		e.Capacity = &c
	}
	return e
}

// Ledger

func (s *fakeStore) TryReserve(ctx context.Context, eventID string) (bool, error) {
	defer s.lock(ctx)()
	e, ok := s.events[eventID]
	if !ok {
		return false, nil
	}
	if e.Capacity != nil && e.HeldCount >= *e.Capacity {
		return false, nil
	}
	e.HeldCount++
	s.events[eventID] = e
	return true, nil
}

func (s *fakeStore) Release(ctx context.Context, registrationID string) (bool, error) {
	defer s.lock(ctx)()
	reg, ok := s.regs[registrationID]
	if !ok || !reg.HoldsSlot {
		return false, nil
	}
	reg.HoldsSlot = false
	s.regs[registrationID] = reg
	e := s.events[reg.EventID]
	e.HeldCount--
	s.events[reg.EventID] = e
	return true, nil
}

// RegistrationStore

func (s *fakeStore) Insert(ctx context.Context, reg *model.Registration) error {
	defer s.lock(ctx)()
	for _, r := range s.regs {
		if r.EventID != reg.EventID || r.UserID != reg.UserID {
			continue
		}
		if reg.IdempotencyKey != "" && r.IdempotencyKey == reg.IdempotencyKey {
			return model.ErrIdempotencyReplay
		}
		if r.Status.IsLive() && reg.Status.IsLive() {
			return model.ErrAlreadyRegistered
		}
	}
	c := *reg
	c.Payment = nil
	s.regs[reg.ID] = c
	return nil
}

func (s *fakeStore) withIntent(r model.Registration) *model.Registration {
	if ref, ok := s.intents[r.ID]; ok {
		r.Payment = &ref
	}
	return &r
}

func (s *fakeStore) Get(ctx context.Context, id string) (*model.Registration, error) {
	defer s.lock(ctx)()
	r, ok := s.regs[id]
	if !ok {
		return nil, model.ErrRegistrationNotFound
	}
	return s.withIntent(r), nil
}

func (s *fakeStore) GetForUpdate(ctx context.Context, id string) (*model.Registration, error) {
	return s.Get(ctx, id)
}

func (s *fakeStore) GetByIntentForUpdate(ctx context.Context, intentID string) (*model.Registration, error) {
	defer s.lock(ctx)()
	for regID, ref := range s.intents {
		if ref.IntentID == intentID {
			return s.withIntent(s.regs[regID]), nil
		}
	}
	return nil, model.ErrRegistrationNotFound
}

func (s *fakeStore) FindByIdempotencyKey(ctx context.Context, eventID, userID, key string) (*model.Registration, error) {
	defer s.lock(ctx)()
	for _, r := range s.regs {
		if r.EventID == eventID && r.UserID == userID && r.IdempotencyKey == key {
			return s.withIntent(r), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindLive(ctx context.Context, eventID, userID string) (*model.Registration, error) {
	defer s.lock(ctx)()
	for _, r := range s.regs {
		if r.EventID == eventID && r.UserID == userID && r.Status.IsLive() {
			return s.withIntent(r), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id string, from model.RegistrationStatus, version int, to model.RegistrationStatus, now time.Time) (int, error) {
	defer s.lock(ctx)()
	if s.failUpdateStatus != nil {
		return 0, s.failUpdateStatus
	}
	r, ok := s.regs[id]
	if !ok || r.Status != from || r.Version != version {
		return 0, model.ErrStaleRegistration
	}
	r.Status = to
	r.Version++
	r.UpdatedAt = now
	s.regs[id] = r
	return r.Version, nil
}

func (s *fakeStore) AttachIntent(ctx context.Context, registrationID string, ref model.PaymentIntentRef) error {
	defer s.lock(ctx)()
	s.intents[registrationID] = ref
	return nil
}

func (s *fakeStore) UpdateIntentStatus(ctx context.Context, intentID, status string, now time.Time) error {
	defer s.lock(ctx)()
	for regID, ref := range s.intents {
		if ref.IntentID == intentID {
			ref.Status = status
			ref.UpdatedAt = now
			s.intents[regID] = ref
		}
	}
	return nil
}

func (s *fakeStore) ClaimStale(ctx context.Context, status model.RegistrationStatus, cutoff time.Time, limit int) ([]model.Registration, error) {
	defer s.lock(ctx)()
	var out []model.Registration
	for _, r := range s.regs {
		if r.Status == status && r.UpdatedAt.Before(cutoff) {
			out = append(out, *s.withIntent(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) ClearIdempotencyKeys(ctx context.Context, cutoff time.Time) (int64, error) {
	defer s.lock(ctx)()
	var n int64
	for id, r := range s.regs {
		switch r.Status {
		case model.StatusPaymentFailed, model.StatusExpired, model.StatusCanceled:
		default:
			continue
		}
		if r.IdempotencyKey != "" && r.UpdatedAt.Before(cutoff) {
			r.IdempotencyKey = ""
			s.regs[id] = r
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) IsRegistered(ctx context.Context, eventID, userID string) (bool, error) {
	defer s.lock(ctx)()
	for _, r := range s.regs {
		if r.EventID == eventID && r.UserID == userID && r.Status.IsLive() {
			return true, nil
		}
	}
	return false, nil
}

// WebhookLog

func (s *fakeStore) Record(ctx context.Context, ev model.ProcessedWebhookEvent) (bool, error) {
	defer s.lock(ctx)()
	key := ev.Provider + "/" + ev.ProviderEventID
	if _, ok := s.webhooks[key]; ok {
		return false, nil
	}
	s.webhooks[key] = ev
	return true, nil
}

func (s *fakeStore) SetOutcome(ctx context.Context, provider, providerEventID string, registrationID *string, outcome string) error {
	defer s.lock(ctx)()
	key := provider + "/" + providerEventID
	ev := s.webhooks[key]
	ev.RegistrationID = registrationID
	ev.Outcome = outcome
	s.webhooks[key] = ev
	return nil
}

// Test accessors.

func (s *fakeStore) event(id string) model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

func (s *fakeStore) registration(id string) model.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.withIntent(s.regs[id])
}

func (s *fakeStore) countStatus(eventID string, status model.RegistrationStatus) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.regs {
		if r.EventID == eventID && r.Status == status {
			n++
		}
	}
	return n
}

func (s *fakeStore) webhook(provider, eventID string) (model.ProcessedWebhookEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.webhooks[provider+"/"+eventID]
	return ev, ok
}

// fakeGateway hands out one intent per idempotency key, as the provider does.
type fakeGateway struct {
	mu        sync.Mutex
	createErr error
	cancelErr error
	intents   map[string]payment.Intent
	creates   int
	canceled  []string
	onCreate  func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: map[string]payment.Intent{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payment.IntentRequest) (payment.Intent, error) {
	if g.onCreate != nil {
		g.onCreate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return payment.Intent{}, g.createErr
	}
	if in, ok := g.intents[req.IdempotencyKey]; ok {
		return in, nil
	}
	in := payment.Intent{
		ID:           "pi_" + req.IdempotencyKey,
		ClientSecret: "pi_" + req.IdempotencyKey + "_secret",
		Status:       "requires_payment_method",
		Amount:       req.Amount,
		Currency:     req.Currency,
	}
	g.intents[req.IdempotencyKey] = in
	return in, nil
}

func (g *fakeGateway) CancelIntent(_ context.Context, intentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, intentID)
	return g.cancelErr
}

func (g *fakeGateway) createCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates
}

func (g *fakeGateway) canceledIntents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.canceled...)
}
