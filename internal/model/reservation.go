package model

import "time"

// ReservationState is one node of the reservation state machine.
type ReservationState string

const (
	StateRequested       ReservationState = "REQUESTED"
	StatePendingApproval ReservationState = "PENDING_APPROVAL" // copy allocated, waiting for staff
	StateApproved        ReservationState = "APPROVED"
	StateWaitlisted      ReservationState = "WAITLISTED"
	StateCompleted       ReservationState = "COMPLETED"
	StateCancelled       ReservationState = "CANCELLED"
	StateExpired         ReservationState = "EXPIRED"
)

// ReservationKind determines the initial routing of a request.
type ReservationKind string

const (
	KindDirectPickup ReservationKind = "DIRECT_PICKUP"
	KindWaitlisted   ReservationKind = "WAITLISTED"
)

// validTransitions encodes the edges of the state machine. Requested is a
// transient state: rows are routed out of it inside the creating transaction
// and are never observable as Requested afterwards.
var validTransitions = map[ReservationState][]ReservationState{
	StateRequested:       {StatePendingApproval, StateWaitlisted},
	StatePendingApproval: {StateApproved, StateCancelled, StateExpired},
	StateApproved:        {StateCompleted, StateCancelled, StateExpired},
	StateWaitlisted:      {StatePendingApproval, StateCancelled, StateExpired},
}

// Terminal reports whether s is an end state that can never be left.
func (s ReservationState) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateExpired:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s ReservationState) CanTransition(next ReservationState) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Reservation is one user's claim on a book. CopyID is set only once a copy
// has been allocated; QueuePosition is meaningful only while Waitlisted.
// Seq is a per-book monotonic sequence assigned under the book's allocation
// lock, and is the authoritative FIFO order for waitlist promotion.
type Reservation struct {
	ID             int64            `gorm:"primaryKey"`
	UserID         int64            `gorm:"index;not null"`
	BookID         int64            `gorm:"index;not null"`
	CopyID         *int64           `gorm:"index"`
	Kind           ReservationKind  `gorm:"size:16;not null"`
	State          ReservationState `gorm:"size:20;not null;index"`
	Seq            int64            `gorm:"not null"`
	QueuePosition  *int
	RequestedAt    time.Time `gorm:"not null"`
	PickupDeadline *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Associations
	Book Book `gorm:"constraint:OnDelete:CASCADE"`
}

// Active reports whether the reservation still holds a live claim.
func (r *Reservation) Active() bool {
	return !r.State.Terminal()
}
