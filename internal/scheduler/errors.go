package scheduler

import "errors"

// Validation and conflict errors are rejected synchronously with no state
// mutated; ErrTransient is returned only after the bounded retry loop has
// exhausted, and tells the caller to retry later rather than change the
// request.
var (
	ErrResourceNotFound           = errors.New("book not found")
	ErrDuplicateActiveReservation = errors.New("user already holds an active reservation for this book")
	ErrCopyNotOwnedByResource     = errors.New("copy does not belong to the requested book")
	ErrNotFound                   = errors.New("reservation not found")
	ErrAlreadyTerminal            = errors.New("reservation is already in a terminal state")
	ErrForbidden                  = errors.New("acting user may not modify this reservation")
	ErrTransient                  = errors.New("transient storage failure")
)
