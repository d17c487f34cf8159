package model

import "time"

// EventType names a user-visible reservation state transition.
type EventType string

const (
	EventWaitlisted     EventType = "RESERVATION_WAITLISTED"
	EventReadyForPickup EventType = "RESERVATION_READY_FOR_PICKUP"
	EventApproved       EventType = "RESERVATION_APPROVED"
	EventRejected       EventType = "RESERVATION_REJECTED"
	EventExpired        EventType = "RESERVATION_EXPIRED"
	EventCancelled      EventType = "RESERVATION_CANCELLED"
	EventCompleted      EventType = "RESERVATION_COMPLETED"
)

// NotificationEvent is an outbox row recording one state transition. It is
// written in the same transaction as the transition itself, so a delivery
// failure can never roll back an allocation and a crashed dispatch can be
// replayed from undelivered rows.
type NotificationEvent struct {
	ID            int64     `gorm:"primaryKey"`
	DedupeKey     string    `gorm:"uniqueIndex;size:36;not null"`
	Type          EventType `gorm:"size:40;not null"`
	ReservationID int64     `gorm:"index;not null"`
	UserID        int64     `gorm:"not null"`
	BookID        int64     `gorm:"not null"`
	OccurredAt    time.Time `gorm:"not null"`
	DeliveredAt   *time.Time
	CreatedAt     time.Time
}
