package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/event-registration/internal/model"
)

// QueryService answers read-only questions for the UI layer.
type QueryService struct {
	events EventStore
	regs   RegistrationStore
}

// NewQueryService constructs a QueryService.
func NewQueryService(events EventStore, regs RegistrationStore) *QueryService {
	return &QueryService{events: events, regs: regs}
}

// IsRegistered reports whether the user holds a pending, awaiting_payment or
// confirmed registration for the event.
func (s *QueryService) IsRegistered(ctx context.Context, eventID, userID string) (bool, error) {
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	ok, err := s.regs.IsRegistered(ctx, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("is registered: %w", err)
	}
	return ok, nil
}

// RemainingCapacity returns the free slots for an event, never negative.
// Drafts are not visible.
func (s *QueryService) RemainingCapacity(ctx context.Context, eventID string) (model.CapacityResponse, error) {
	event, err := s.visibleEvent(ctx, eventID)
	if err != nil {
		return model.CapacityResponse{}, err
	}
	remaining, unlimited := event.Remaining()
	return model.CapacityResponse{EventID: event.ID, Remaining: remaining, Unlimited: unlimited}, nil
}

// ListEvents returns every non-draft event with its remaining capacity.
func (s *QueryService) ListEvents(ctx context.Context) ([]model.EventView, error) {
	events, err := s.events.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	views := make([]model.EventView, 0, len(events))
	for i := range events {
		views = append(views, view(&events[i]))
	}
	return views, nil
}

// GetEvent returns a single event. Drafts are not visible.
func (s *QueryService) GetEvent(ctx context.Context, id string) (model.EventView, error) {
	event, err := s.visibleEvent(ctx, id)
	if err != nil {
		return model.EventView{}, err
	}
	return view(event), nil
}

func (s *QueryService) visibleEvent(ctx context.Context, id string) (*model.Event, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.Status == model.EventDraft {
		return nil, model.ErrEventNotFound
	}
	return event, nil
}

func view(e *model.Event) model.EventView {
	remaining, unlimited := e.Remaining()
	return model.EventView{Event: e, Remaining: remaining, Unlimited: unlimited}
}
