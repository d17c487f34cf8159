package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"library-reserve-backend/internal/model"
)

// ErrInvalidTransition is returned when a requested reservation state change
// is not an edge of the state machine.
var ErrInvalidTransition = errors.New("invalid reservation state transition")

// Store defines the interface for all database operations. Copy rows and
// reservation rows are mutated only through these methods; the scheduler
// wraps every read-then-write sequence in Transaction plus its per-book lock.
type Store interface {
	DB() *gorm.DB
	Transaction(ctx context.Context, fn func(tx Store) error) error

	// Books and copies (resource pool)
	GetBook(ctx context.Context, bookID int64) (model.Book, error)
	CreateBook(ctx context.Context, book *model.Book) error
	CreateCopy(ctx context.Context, c *model.Copy) error
	GetCopy(ctx context.Context, copyID int64) (model.Copy, error)
	ListCopiesByBook(ctx context.Context, bookID int64) ([]model.Copy, error)
	CountCopiesByStatus(ctx context.Context, bookID int64) (map[model.CopyStatus]int64, error)
	SetCopyStatus(ctx context.Context, copyID int64, status model.CopyStatus) error
	ClaimAvailableCopy(ctx context.Context, bookID int64) (*model.Copy, error)
	ClaimSpecificCopy(ctx context.Context, copyID int64) (*model.Copy, error)
	ListOrphanedReservedCopies(ctx context.Context) ([]model.Copy, error)

	// Reservations (ledger)
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id int64) (model.Reservation, error)
	ActiveReservationExists(ctx context.Context, userID, bookID int64) (bool, error)
	ListActiveByBook(ctx context.Context, bookID int64) ([]model.Reservation, error)
	ListWaitlistedByBook(ctx context.Context, bookID int64) ([]model.Reservation, error)
	CountWaitlisted(ctx context.Context, bookID int64) (int64, error)
	ListBooksWithWaitlist(ctx context.Context) ([]int64, error)
	NextReservationSeq(ctx context.Context, bookID int64) (int64, error)
	SetReservationState(ctx context.Context, r *model.Reservation, next model.ReservationState) error
	SaveReservation(ctx context.Context, r *model.Reservation) error
	ListDeadlinePassed(ctx context.Context, now time.Time) ([]model.Reservation, error)

	// Notification outbox
	AppendEvent(ctx context.Context, ev *model.NotificationEvent) error
	GetEvent(ctx context.Context, id int64) (model.NotificationEvent, error)
	ListUndeliveredEvents(ctx context.Context, limit int) ([]model.NotificationEvent, error)
	MarkEventDelivered(ctx context.Context, id int64, at time.Time) error

	// Push subscriptions
	SubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying handle for read-only API queries.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn against a store bound to one database transaction.
func (s *gormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// --- Books and copies ---

func (s *gormStore) GetBook(ctx context.Context, bookID int64) (model.Book, error) {
	var book model.Book
	err := s.db.WithContext(ctx).First(&book, bookID).Error
	return book, err
}

func (s *gormStore) CreateBook(ctx context.Context, book *model.Book) error {
	return s.db.WithContext(ctx).Create(book).Error
}

func (s *gormStore) CreateCopy(ctx context.Context, c *model.Copy) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *gormStore) GetCopy(ctx context.Context, copyID int64) (model.Copy, error) {
	var c model.Copy
	err := s.db.WithContext(ctx).First(&c, copyID).Error
	return c, err
}

func (s *gormStore) ListCopiesByBook(ctx context.Context, bookID int64) ([]model.Copy, error) {
	var copies []model.Copy
	err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Order("seq").Find(&copies).Error
	return copies, err
}

func (s *gormStore) CountCopiesByStatus(ctx context.Context, bookID int64) (map[model.CopyStatus]int64, error) {
	type row struct {
		Status model.CopyStatus
		N      int64
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&model.Copy{}).
		Select("status, COUNT(*) as n").
		Where("book_id = ?", bookID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[model.CopyStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

func (s *gormStore) SetCopyStatus(ctx context.Context, copyID int64, status model.CopyStatus) error {
	res := s.db.WithContext(ctx).
		Model(&model.Copy{}).
		Where("id = ?", copyID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ClaimAvailableCopy picks the lowest-seq Available copy of a book and flips
// it to Reserved, returning nil when none exists. Callers must run this
// inside Transaction under the book's allocation lock; on Postgres the row
// is additionally locked for the duration of the transaction.
func (s *gormStore) ClaimAvailableCopy(ctx context.Context, bookID int64) (*model.Copy, error) {
	var c model.Copy
	q := s.db.WithContext(ctx).
		Where("book_id = ? AND status = ?", bookID, model.CopyAvailable).
		Order("seq, id")
	q = s.withRowLock(q)
	if err := q.First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select available copy for book %d: %w", bookID, err)
	}

	c.Status = model.CopyReserved
	if err := s.db.WithContext(ctx).Save(&c).Error; err != nil {
		return nil, fmt.Errorf("failed to reserve copy %d: %w", c.ID, err)
	}
	return &c, nil
}

// ClaimSpecificCopy flips one named copy to Reserved if and only if it is
// currently Available. It returns nil without error when the copy is held;
// the caller then demotes the request to the waitlist.
func (s *gormStore) ClaimSpecificCopy(ctx context.Context, copyID int64) (*model.Copy, error) {
	var c model.Copy
	q := s.db.WithContext(ctx).Where("id = ? AND status = ?", copyID, model.CopyAvailable)
	q = s.withRowLock(q)
	if err := q.First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select copy %d: %w", copyID, err)
	}

	c.Status = model.CopyReserved
	if err := s.db.WithContext(ctx).Save(&c).Error; err != nil {
		return nil, fmt.Errorf("failed to reserve copy %d: %w", c.ID, err)
	}
	return &c, nil
}

// ListOrphanedReservedCopies finds copies stuck in Reserved with no live
// reservation holding them. The audit pass heals these back to Available.
func (s *gormStore) ListOrphanedReservedCopies(ctx context.Context) ([]model.Copy, error) {
	var copies []model.Copy
	err := s.db.WithContext(ctx).
		Where("status = ? AND NOT EXISTS (SELECT 1 FROM reservations r WHERE r.copy_id = copies.id AND r.state IN ?)",
			model.CopyReserved,
			[]model.ReservationState{model.StatePendingApproval, model.StateApproved}).
		Find(&copies).Error
	return copies, err
}

// withRowLock adds SELECT ... FOR UPDATE on dialects that support it.
// SQLite serializes writers on its own and rejects the clause.
func (s *gormStore) withRowLock(q *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// --- Reservations ---

func (s *gormStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	return s.db.WithContext(ctx).Create(r).Error
}

func (s *gormStore) GetReservation(ctx context.Context, id int64) (model.Reservation, error) {
	var r model.Reservation
	err := s.db.WithContext(ctx).First(&r, id).Error
	return r, err
}

func (s *gormStore) ActiveReservationExists(ctx context.Context, userID, bookID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("user_id = ? AND book_id = ? AND state NOT IN ?", userID, bookID, terminalStates()).
		Count(&n).Error
	return n > 0, err
}

func (s *gormStore) ListActiveByBook(ctx context.Context, bookID int64) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.db.WithContext(ctx).
		Where("book_id = ? AND state NOT IN ?", bookID, terminalStates()).
		Order("seq, id").
		Find(&rs).Error
	return rs, err
}

func (s *gormStore) ListWaitlistedByBook(ctx context.Context, bookID int64) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.db.WithContext(ctx).
		Where("book_id = ? AND state = ?", bookID, model.StateWaitlisted).
		Order("seq, id").
		Find(&rs).Error
	return rs, err
}

func (s *gormStore) CountWaitlisted(ctx context.Context, bookID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("book_id = ? AND state = ?", bookID, model.StateWaitlisted).
		Count(&n).Error
	return n, err
}

func (s *gormStore) ListBooksWithWaitlist(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("state = ?", model.StateWaitlisted).
		Distinct("book_id").
		Order("book_id").
		Pluck("book_id", &ids).Error
	return ids, err
}

// NextReservationSeq returns the next value of the per-book FIFO sequence.
// Only safe under the book's allocation lock.
func (s *gormStore) NextReservationSeq(ctx context.Context, bookID int64) (int64, error) {
	var max int64
	err := s.db.WithContext(ctx).
		Model(&model.Reservation{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// SetReservationState validates the transition against the state machine,
// mutates r in place and persists it.
func (s *gormStore) SetReservationState(ctx context.Context, r *model.Reservation, next model.ReservationState) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("reservation %d: %s -> %s: %w", r.ID, r.State, next, ErrInvalidTransition)
	}
	r.State = next
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *gormStore) SaveReservation(ctx context.Context, r *model.Reservation) error {
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *gormStore) ListDeadlinePassed(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.db.WithContext(ctx).
		Where("state NOT IN ? AND pickup_deadline IS NOT NULL AND pickup_deadline <= ?", terminalStates(), now).
		Order("book_id, seq").
		Find(&rs).Error
	return rs, err
}

func terminalStates() []model.ReservationState {
	return []model.ReservationState{model.StateCompleted, model.StateCancelled, model.StateExpired}
}

// --- Notification outbox ---

func (s *gormStore) AppendEvent(ctx context.Context, ev *model.NotificationEvent) error {
	return s.db.WithContext(ctx).Create(ev).Error
}

func (s *gormStore) GetEvent(ctx context.Context, id int64) (model.NotificationEvent, error) {
	var ev model.NotificationEvent
	err := s.db.WithContext(ctx).First(&ev, id).Error
	return ev, err
}

func (s *gormStore) ListUndeliveredEvents(ctx context.Context, limit int) ([]model.NotificationEvent, error) {
	var evs []model.NotificationEvent
	err := s.db.WithContext(ctx).
		Where("delivered_at IS NULL").
		Order("id").
		Limit(limit).
		Find(&evs).Error
	return evs, err
}

func (s *gormStore) MarkEventDelivered(ctx context.Context, id int64, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.NotificationEvent{}).
		Where("id = ?", id).
		Update("delivered_at", at).Error
}

// --- Push subscriptions ---

func (s *gormStore) SubscriptionsForUser(ctx context.Context, userID int64) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}
