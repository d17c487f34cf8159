package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"library-reserve-backend/config"
	"library-reserve-backend/internal/model"
	"library-reserve-backend/internal/store"
)

// Dispatcher receives the IDs of committed outbox events for delivery.
// Delivery runs outside the allocation transaction, so a failing notifier
// can never roll back a state change.
type Dispatcher interface {
	Dispatch(eventID int64)
}

// Scheduler owns every mutation of copy states and reservation rows. All
// read-then-write sequences run under the affected book's mutex inside one
// storage transaction.
type Scheduler struct {
	store      store.Store
	cfg        config.SchedulerConfig
	dispatcher Dispatcher
	locks      *bookLocks
	now        func() time.Time
}

// New creates a Scheduler. dispatcher may be nil when no delivery channel is
// wired (events still accumulate in the outbox and can be replayed).
func New(s store.Store, cfg config.SchedulerConfig, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		store:      s,
		cfg:        cfg,
		dispatcher: dispatcher,
		locks:      newBookLocks(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// emitFn records one state transition in the notification outbox.
type emitFn func(tx store.Store, evType model.EventType, r *model.Reservation) error

// CreateReservation routes a new request: DirectPickup attempts an
// immediate copy claim and falls back to the waitlist; Waitlisted requests
// always enqueue first and are promoted by the reconciliation pass, so a
// free copy is still handed out in FIFO order. An explicitly requested copy
// that is not Available demotes the request to the waitlist; it is never
// silently substituted with a different copy.
func (s *Scheduler) CreateReservation(ctx context.Context, userID, bookID int64, kind model.ReservationKind, explicitCopyID *int64) (model.Reservation, error) {
	var created model.Reservation

	err := s.withBookTx(ctx, bookID, func(tx store.Store, emit emitFn) error {
		if _, err := tx.GetBook(ctx, bookID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrResourceNotFound
			}
			return err
		}

		if explicitCopyID != nil {
			c, err := tx.GetCopy(ctx, *explicitCopyID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrCopyNotOwnedByResource
				}
				return err
			}
			if c.BookID != bookID {
				return ErrCopyNotOwnedByResource
			}
		}

		exists, err := tx.ActiveReservationExists(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateActiveReservation
		}

		seq, err := tx.NextReservationSeq(ctx, bookID)
		if err != nil {
			return err
		}

		r := model.Reservation{
			UserID:      userID,
			BookID:      bookID,
			Kind:        kind,
			State:       model.StateRequested,
			Seq:         seq,
			RequestedAt: s.now(),
		}
		if err := tx.CreateReservation(ctx, &r); err != nil {
			return err
		}

		switch kind {
		case model.KindDirectPickup:
			claimed, err := s.claim(ctx, tx, bookID, explicitCopyID)
			if err != nil {
				return err
			}
			if claimed != nil {
				if err := s.allocate(ctx, tx, &r, claimed, emit); err != nil {
					return err
				}
			} else {
				if err := s.enqueue(ctx, tx, &r, emit); err != nil {
					return err
				}
			}
		default:
			if err := s.enqueue(ctx, tx, &r, emit); err != nil {
				return err
			}
			if err := s.reconcile(ctx, tx, bookID, emit); err != nil {
				return err
			}
		}

		// Reload: the reconcile pass may have promoted the row just created.
		created, err = tx.GetReservation(ctx, r.ID)
		return err
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return created, nil
}

// CancelReservation cancels a non-terminal reservation. Staff may cancel any
// reservation; a user only their own. isStaff selects the rejected event for
// notification wording and has no effect on the state machine.
func (s *Scheduler) CancelReservation(ctx context.Context, reservationID, actingUserID int64, isStaff bool) error {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	return s.withBookTx(ctx, r.BookID, func(tx store.Store, emit emitFn) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !r.Active() {
			return ErrAlreadyTerminal
		}
		if !isStaff && r.UserID != actingUserID {
			return ErrForbidden
		}

		heldCopy := r.CopyID
		holding := heldCopy != nil &&
			(r.State == model.StatePendingApproval || r.State == model.StateApproved)

		r.QueuePosition = nil
		if err := tx.SetReservationState(ctx, &r, model.StateCancelled); err != nil {
			return err
		}

		evType := model.EventCancelled
		if isStaff {
			evType = model.EventRejected
		}
		if err := emit(tx, evType, &r); err != nil {
			return err
		}

		if holding {
			if err := freeHeldCopy(ctx, tx, *heldCopy); err != nil {
				return err
			}
		}
		return s.reconcile(ctx, tx, r.BookID, emit)
	})
}

// freeHeldCopy returns a copy to Available when its holder's reservation
// ends. A copy withdrawn while on hold stays Withdrawn; it must not re-enter
// the pool.
func freeHeldCopy(ctx context.Context, tx store.Store, copyID int64) error {
	c, err := tx.GetCopy(ctx, copyID)
	if err != nil {
		return err
	}
	if c.Status != model.CopyReserved {
		return nil
	}
	return tx.SetCopyStatus(ctx, c.ID, model.CopyAvailable)
}

// ApproveReservation records the staff decision on an allocated reservation.
func (s *Scheduler) ApproveReservation(ctx context.Context, reservationID, staffID int64) error {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	return s.withBookTx(ctx, r.BookID, func(tx store.Store, emit emitFn) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := tx.SetReservationState(ctx, &r, model.StateApproved); err != nil {
			return err
		}
		log.Printf("reservation %d approved by staff %d", r.ID, staffID)
		return emit(tx, model.EventApproved, &r)
	})
}

// CompleteReservation confirms pickup: the reservation completes and its
// copy moves to Loaned.
func (s *Scheduler) CompleteReservation(ctx context.Context, reservationID int64) error {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	return s.withBookTx(ctx, r.BookID, func(tx store.Store, emit emitFn) error {
		r, err := tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := tx.SetReservationState(ctx, &r, model.StateCompleted); err != nil {
			return err
		}
		if r.CopyID != nil {
			if err := tx.SetCopyStatus(ctx, *r.CopyID, model.CopyLoaned); err != nil {
				return err
			}
		}
		return emit(tx, model.EventCompleted, &r)
	})
}

// ReleaseCopy is called by loan processing when a copy comes back. The copy
// returns to Available and the waitlist head is promoted.
func (s *Scheduler) ReleaseCopy(ctx context.Context, copyID int64) error {
	c, err := s.store.GetCopy(ctx, copyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	return s.withBookTx(ctx, c.BookID, func(tx store.Store, emit emitFn) error {
		c, err := tx.GetCopy(ctx, copyID)
		if err != nil {
			return err
		}
		// Only loaned copies come back through loan processing; a Reserved
		// copy is held by a live reservation and must not be freed here.
		if c.Status == model.CopyLoaned {
			if err := tx.SetCopyStatus(ctx, c.ID, model.CopyAvailable); err != nil {
				return err
			}
		}
		return s.reconcile(ctx, tx, c.BookID, emit)
	})
}

// WithdrawCopy retires a copy from circulation. Withdrawn copies stop being
// allocation targets but are never deleted.
func (s *Scheduler) WithdrawCopy(ctx context.Context, copyID int64) error {
	c, err := s.store.GetCopy(ctx, copyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	return s.withBookTx(ctx, c.BookID, func(tx store.Store, emit emitFn) error {
		return tx.SetCopyStatus(ctx, copyID, model.CopyWithdrawn)
	})
}

// QueuePosition returns the caller-visible position in line, 0 when the
// reservation is not waitlisted.
func (s *Scheduler) QueuePosition(ctx context.Context, bookID, reservationID int64) (int, error) {
	r, err := s.store.GetReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if r.BookID != bookID {
		return 0, ErrNotFound
	}
	if r.State != model.StateWaitlisted || r.QueuePosition == nil {
		return 0, nil
	}
	return *r.QueuePosition, nil
}

// claim picks a copy for a new DirectPickup request. With an explicit copy
// the claim targets exactly that copy and returns nil when it is held.
func (s *Scheduler) claim(ctx context.Context, tx store.Store, bookID int64, explicitCopyID *int64) (*model.Copy, error) {
	if explicitCopyID != nil {
		return tx.ClaimSpecificCopy(ctx, *explicitCopyID)
	}
	return tx.ClaimAvailableCopy(ctx, bookID)
}

// allocate pairs a reservation with a freshly claimed copy.
func (s *Scheduler) allocate(ctx context.Context, tx store.Store, r *model.Reservation, c *model.Copy, emit emitFn) error {
	deadline := s.now().Add(s.cfg.PickupGrace)
	r.CopyID = &c.ID
	r.QueuePosition = nil
	r.PickupDeadline = &deadline
	if err := tx.SetReservationState(ctx, r, model.StatePendingApproval); err != nil {
		return err
	}
	return emit(tx, model.EventReadyForPickup, r)
}

// enqueue appends a reservation to the tail of the waitlist.
func (s *Scheduler) enqueue(ctx context.Context, tx store.Store, r *model.Reservation, emit emitFn) error {
	n, err := tx.CountWaitlisted(ctx, r.BookID)
	if err != nil {
		return err
	}
	pos := int(n) + 1
	r.QueuePosition = &pos
	if err := tx.SetReservationState(ctx, r, model.StateWaitlisted); err != nil {
		return err
	}
	return emit(tx, model.EventWaitlisted, r)
}

// withBookTx serializes on the book's mutex and runs fn inside a storage
// transaction, retrying transient failures with doubling backoff. Domain
// errors abort immediately; a failed attempt leaves no partial state because
// the whole attempt is one transaction. Outbox events recorded by fn are
// dispatched only after the transaction commits.
func (s *Scheduler) withBookTx(ctx context.Context, bookID int64, fn func(tx store.Store, emit emitFn) error) error {
	mu := s.locks.get(bookID)
	mu.Lock()
	defer mu.Unlock()

	backoff := s.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < s.cfg.AllocationRetries; attempt++ {
		var eventIDs []int64
		emit := func(tx store.Store, evType model.EventType, r *model.Reservation) error {
			ev := model.NotificationEvent{
				DedupeKey:     uuid.NewString(),
				Type:          evType,
				ReservationID: r.ID,
				UserID:        r.UserID,
				BookID:        r.BookID,
				OccurredAt:    s.now(),
			}
			if err := tx.AppendEvent(ctx, &ev); err != nil {
				return err
			}
			eventIDs = append(eventIDs, ev.ID)
			return nil
		}

		err := s.store.Transaction(ctx, func(tx store.Store) error {
			return fn(tx, emit)
		})
		if err == nil {
			s.dispatch(eventIDs)
			return nil
		}
		if isDomainErr(err) {
			return err
		}

		lastErr = err
		log.Printf("allocation attempt %d for book %d failed: %v", attempt+1, bookID, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("book %d: %w: %v", bookID, ErrTransient, lastErr)
}

func (s *Scheduler) dispatch(eventIDs []int64) {
	if s.dispatcher == nil {
		return
	}
	for _, id := range eventIDs {
		s.dispatcher.Dispatch(id)
	}
}

// isDomainErr reports whether err is a validation or conflict error that
// must not be retried.
func isDomainErr(err error) bool {
	for _, sentinel := range []error{
		ErrResourceNotFound,
		ErrDuplicateActiveReservation,
		ErrCopyNotOwnedByResource,
		ErrNotFound,
		ErrAlreadyTerminal,
		ErrForbidden,
		store.ErrInvalidTransition,
		gorm.ErrRecordNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
