package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"library-reserve-backend/internal/scheduler"
	"library-reserve-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	scheduler *scheduler.Scheduler
	webpush   *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, sched *scheduler.Scheduler, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:     s,
		scheduler: sched,
		webpush:   webpushOptions,
	}
}

// respondError maps scheduler errors onto HTTP statuses with a stable kind
// string, so the caller can render a specific message.
func respondError(c *gin.Context, err error) {
	type mapping struct {
		sentinel error
		status   int
		kind     string
	}
	mappings := []mapping{
		{scheduler.ErrResourceNotFound, http.StatusNotFound, "resource_not_found"},
		{scheduler.ErrNotFound, http.StatusNotFound, "reservation_not_found"},
		{scheduler.ErrDuplicateActiveReservation, http.StatusConflict, "duplicate_active_reservation"},
		{scheduler.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
		{store.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{scheduler.ErrCopyNotOwnedByResource, http.StatusUnprocessableEntity, "copy_not_owned_by_resource"},
		{scheduler.ErrForbidden, http.StatusForbidden, "forbidden"},
		{scheduler.ErrTransient, http.StatusServiceUnavailable, "transient_failure"},
		{gorm.ErrRecordNotFound, http.StatusNotFound, "not_found"},
	}

	for _, m := range mappings {
		if errors.Is(err, m.sentinel) {
			c.AbortWithStatusJSON(m.status, gin.H{"error": err.Error(), "kind": m.kind})
			return
		}
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": "internal"})
}
