package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"library-reserve-backend/internal/model"
)

type createReservationRequest struct {
	UserID int64                 `json:"user_id" binding:"required"`
	BookID int64                 `json:"book_id" binding:"required"`
	Kind   model.ReservationKind `json:"kind"`
	CopyID *int64                `json:"copy_id"`
}

// reservationResponse is the API shape of a reservation.
type reservationResponse struct {
	ID             int64                  `json:"id"`
	UserID         int64                  `json:"user_id"`
	BookID         int64                  `json:"book_id"`
	CopyID         *int64                 `json:"copy_id,omitempty"`
	Kind           model.ReservationKind  `json:"kind"`
	State          model.ReservationState `json:"state"`
	QueuePosition  *int                   `json:"queue_position,omitempty"`
	RequestedAt    time.Time              `json:"requested_at"`
	PickupDeadline *time.Time             `json:"pickup_deadline,omitempty"`
}

func toReservationResponse(r model.Reservation) reservationResponse {
	return reservationResponse{
		ID:             r.ID,
		UserID:         r.UserID,
		BookID:         r.BookID,
		CopyID:         r.CopyID,
		Kind:           r.Kind,
		State:          r.State,
		QueuePosition:  r.QueuePosition,
		RequestedAt:    r.RequestedAt,
		PickupDeadline: r.PickupDeadline,
	}
}

// CreateReservation handles POST /api/reservations.
func (h *Handler) CreateReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	kind := req.Kind
	switch kind {
	case "":
		kind = model.KindDirectPickup
	case model.KindDirectPickup, model.KindWaitlisted:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown reservation kind"})
		return
	}

	r, err := h.scheduler.CreateReservation(c.Request.Context(), req.UserID, req.BookID, kind, req.CopyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toReservationResponse(r))
}

// GetReservation handles GET /api/reservations/:id.
func (h *Handler) GetReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation ID"})
		return
	}

	r, err := h.store.GetReservation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toReservationResponse(r))
}

type cancelReservationRequest struct {
	ActingUserID int64 `json:"acting_user_id" binding:"required"`
	IsStaff      bool  `json:"is_staff"`
}

// CancelReservation handles DELETE /api/reservations/:id.
func (h *Handler) CancelReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation ID"})
		return
	}

	var req cancelReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.scheduler.CancelReservation(c.Request.Context(), id, req.ActingUserID, req.IsStaff); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type approveReservationRequest struct {
	StaffID int64 `json:"staff_id" binding:"required"`
}

// ApproveReservation handles POST /api/reservations/:id/approve.
func (h *Handler) ApproveReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation ID"})
		return
	}

	var req approveReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.scheduler.ApproveReservation(c.Request.Context(), id, req.StaffID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CompleteReservation handles POST /api/reservations/:id/complete (pickup
// confirmed; the copy leaves on loan).
func (h *Handler) CompleteReservation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation ID"})
		return
	}

	if err := h.scheduler.CompleteReservation(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetBookReservations handles GET /api/books/:book_id/reservations: the
// staff view of a book's live claims, in arrival order.
func (h *Handler) GetBookReservations(c *gin.Context) {
	bookID, err := strconv.ParseInt(c.Param("book_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book ID"})
		return
	}

	rs, err := h.store.ListActiveByBook(c.Request.Context(), bookID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve reservations"})
		return
	}

	responses := make([]reservationResponse, 0, len(rs))
	for _, r := range rs {
		responses = append(responses, toReservationResponse(r))
	}
	c.JSON(http.StatusOK, responses)
}

// GetQueuePosition handles GET /api/books/:book_id/reservations/:id/position.
// Position 0 means the reservation is not waitlisted.
func (h *Handler) GetQueuePosition(c *gin.Context) {
	bookID, err := strconv.ParseInt(c.Param("book_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book ID"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reservation ID"})
		return
	}

	pos, err := h.scheduler.QueuePosition(c.Request.Context(), bookID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue_position": pos})
}
