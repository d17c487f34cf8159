package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"library-reserve-backend/internal/model"
	"library-reserve-backend/internal/store"
)

// SweepExpired transitions every non-terminal reservation whose pickup
// deadline has passed to Expired, returns its copy to Available and
// reconciles the affected book. Expiry is the only state change forced
// without a direct user or staff action. Returns the number of
// reservations expired.
func (s *Scheduler) SweepExpired(ctx context.Context) (int, error) {
	due, err := s.store.ListDeadlinePassed(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	byBook := make(map[int64][]int64)
	for _, r := range due {
		byBook[r.BookID] = append(byBook[r.BookID], r.ID)
	}

	expired := 0
	for bookID, ids := range byBook {
		var expiredInBook int
		err := s.withBookTx(ctx, bookID, func(tx store.Store, emit emitFn) error {
			expiredInBook = 0
			for _, id := range ids {
				r, err := tx.GetReservation(ctx, id)
				if err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						continue
					}
					return err
				}
				// Re-check under the lock: the reservation may have been
				// approved, completed or cancelled since the unlocked scan.
				if !r.Active() || r.PickupDeadline == nil || r.PickupDeadline.After(s.now()) {
					continue
				}

				heldCopy := r.CopyID
				holding := heldCopy != nil &&
					(r.State == model.StatePendingApproval || r.State == model.StateApproved)

				r.QueuePosition = nil
				if err := tx.SetReservationState(ctx, &r, model.StateExpired); err != nil {
					return err
				}
				if err := emit(tx, model.EventExpired, &r); err != nil {
					return err
				}
				if holding {
					if err := freeHeldCopy(ctx, tx, *heldCopy); err != nil {
						return err
					}
				}
				expiredInBook++
			}
			return s.reconcile(ctx, tx, bookID, emit)
		})
		if err != nil {
			return expired, err
		}
		expired += expiredInBook
	}

	if expired > 0 {
		log.Printf("expiry sweep: %d reservations expired", expired)
	}
	return expired, nil
}

// RunSweeper drives SweepExpired on a fixed interval until ctx is
// cancelled. The deployment may instead disable this and hit the admin
// sweep endpoint from an external cron.
func (s *Scheduler) RunSweeper(ctx context.Context, interval time.Duration) {
	log.Printf("starting expiry sweeper, interval %s", interval)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("expiry sweeper shutting down")
			return
		case <-timer.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				log.Printf("expiry sweep failed: %v", err)
			}
			timer.Reset(interval)
		}
	}
}
