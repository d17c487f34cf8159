package scheduler

import (
	"context"
	"log"

	"library-reserve-backend/internal/model"
	"library-reserve-backend/internal/store"
)

// reconcile brings one book's queue back to its invariants: every Available
// copy is handed to the current waitlist head (FIFO by per-book sequence),
// and the remaining Waitlisted reservations are renumbered densely 1..N.
// Re-running on an already-consistent state is a no-op, so it is safe to
// retry after a partial failure. Must run inside withBookTx.
func (s *Scheduler) reconcile(ctx context.Context, tx store.Store, bookID int64, emit emitFn) error {
	waiting, err := tx.ListWaitlistedByBook(ctx, bookID)
	if err != nil {
		return err
	}

	promoted := 0
	for i := range waiting {
		claimed, err := tx.ClaimAvailableCopy(ctx, bookID)
		if err != nil {
			return err
		}
		if claimed == nil {
			break
		}
		if err := s.allocate(ctx, tx, &waiting[i], claimed, emit); err != nil {
			return err
		}
		promoted++
	}

	remaining := waiting[promoted:]
	for i := range remaining {
		want := i + 1
		if remaining[i].QueuePosition != nil && *remaining[i].QueuePosition == want {
			continue
		}
		remaining[i].QueuePosition = &want
		if err := tx.SaveReservation(ctx, &remaining[i]); err != nil {
			return err
		}
	}
	return nil
}

// Reconcile runs the reconciliation pass for one book on demand.
func (s *Scheduler) Reconcile(ctx context.Context, bookID int64) error {
	return s.withBookTx(ctx, bookID, func(tx store.Store, emit emitFn) error {
		return s.reconcile(ctx, tx, bookID, emit)
	})
}

// Audit is the periodic consistency repair: copies stuck in Reserved with no
// live reservation holding them are returned to Available, and every book
// with a waitlist gets a reconciliation pass to heal any numbering gap.
// Returns the number of orphaned copies healed.
func (s *Scheduler) Audit(ctx context.Context) (int, error) {
	orphans, err := s.store.ListOrphanedReservedCopies(ctx)
	if err != nil {
		return 0, err
	}

	healed := 0
	byBook := make(map[int64][]int64)
	for _, c := range orphans {
		byBook[c.BookID] = append(byBook[c.BookID], c.ID)
	}

	for bookID, copyIDs := range byBook {
		var healedInBook int
		err := s.withBookTx(ctx, bookID, func(tx store.Store, emit emitFn) error {
			healedInBook = 0
			for _, copyID := range copyIDs {
				c, err := tx.GetCopy(ctx, copyID)
				if err != nil {
					return err
				}
				// Re-check under the lock: the copy may have been claimed
				// since the unlocked scan.
				if c.Status != model.CopyReserved {
					continue
				}
				stillOrphaned, err := copyIsOrphaned(ctx, tx, copyID)
				if err != nil {
					return err
				}
				if !stillOrphaned {
					continue
				}
				log.Printf("audit: healing orphaned reserved copy %d (book %d)", copyID, bookID)
				if err := tx.SetCopyStatus(ctx, copyID, model.CopyAvailable); err != nil {
					return err
				}
				healedInBook++
			}
			return s.reconcile(ctx, tx, bookID, emit)
		})
		if err != nil {
			return healed, err
		}
		healed += healedInBook
	}

	bookIDs, err := s.store.ListBooksWithWaitlist(ctx)
	if err != nil {
		return healed, err
	}
	for _, bookID := range bookIDs {
		if _, hadOrphans := byBook[bookID]; hadOrphans {
			continue
		}
		if err := s.Reconcile(ctx, bookID); err != nil {
			return healed, err
		}
	}
	return healed, nil
}

func copyIsOrphaned(ctx context.Context, tx store.Store, copyID int64) (bool, error) {
	orphans, err := tx.ListOrphanedReservedCopies(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range orphans {
		if c.ID == copyID {
			return true, nil
		}
	}
	return false, nil
}
