package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservationStateTransitions(t *testing.T) {
	testCases := []struct {
		name    string
		from    ReservationState
		to      ReservationState
		allowed bool
	}{
		{"requested routes to pending approval", StateRequested, StatePendingApproval, true},
		{"requested routes to waitlist", StateRequested, StateWaitlisted, true},
		{"requested cannot complete directly", StateRequested, StateCompleted, false},
		{"waitlisted promotes to pending approval", StateWaitlisted, StatePendingApproval, true},
		{"waitlisted can be cancelled", StateWaitlisted, StateCancelled, true},
		{"waitlisted can expire", StateWaitlisted, StateExpired, true},
		{"waitlisted cannot skip to approved", StateWaitlisted, StateApproved, false},
		{"pending approval can be approved", StatePendingApproval, StateApproved, true},
		{"pending approval can be rejected", StatePendingApproval, StateCancelled, true},
		{"pending approval can expire", StatePendingApproval, StateExpired, true},
		{"approved completes on pickup", StateApproved, StateCompleted, true},
		{"approved can expire", StateApproved, StateExpired, true},
		{"approved cannot return to waitlist", StateApproved, StateWaitlisted, false},
		{"completed is terminal", StateCompleted, StateWaitlisted, false},
		{"cancelled is terminal", StateCancelled, StatePendingApproval, false},
		{"expired is terminal", StateExpired, StateWaitlisted, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to))
		})
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.False(t, StateRequested.Terminal())
	assert.False(t, StatePendingApproval.Terminal())
	assert.False(t, StateApproved.Terminal())
	assert.False(t, StateWaitlisted.Terminal())
}
