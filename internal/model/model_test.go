package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventRemaining(t *testing.T) {
	capacity := func(n int) *int { return &n }

	tests := []struct {
		name      string
		event     Event
		remaining int
		unlimited bool
	}{
		{name: "unlimited", event: Event{HeldCount: 12}, unlimited: true},
		{name: "partially held", event: Event{Capacity: capacity(10), HeldCount: 4}, remaining: 6},
		{name: "full", event: Event{Capacity: capacity(3), HeldCount: 3}, remaining: 0},
		{name: "never negative", event: Event{Capacity: capacity(2), HeldCount: 5}, remaining: 0},
		{name: "closed", event: Event{Capacity: capacity(0)}, remaining: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remaining, unlimited := tt.event.Remaining()
			assert.Equal(t, tt.remaining, remaining)
			assert.Equal(t, tt.unlimited, unlimited)
		})
	}
}

func TestRegistrationStatusClassification(t *testing.T) {
	terminal := map[RegistrationStatus]bool{
		StatusPending:         false,
		StatusAwaitingPayment: false,
		StatusConfirmed:       true,
		StatusPaymentFailed:   true,
		StatusExpired:         true,
		StatusCanceled:        true,
	}
	for status, want := range terminal {
		assert.Equal(t, want, status.IsTerminal(), status)
	}

	assert.True(t, StatusPending.IsLive())
	assert.True(t, StatusAwaitingPayment.IsLive())
	assert.True(t, StatusConfirmed.IsLive())
	assert.False(t, StatusExpired.IsLive())
	assert.False(t, StatusCanceled.IsLive())
	assert.False(t, StatusPaymentFailed.IsLive())
}

func TestEventIsFreeAndOpen(t *testing.T) {
	e := Event{Status: EventPublished}
	assert.True(t, e.IsFree())
	assert.True(t, e.IsOpen())

	e.PriceAmount = 2500
	e.Status = EventEnded
	assert.False(t, e.IsFree())
	assert.False(t, e.IsOpen())
}
