package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-reserve-backend/internal/model"
	"library-reserve-backend/internal/parse"
)

type registerCopyRequest struct {
	BookID  int64  `json:"book_id" binding:"required"`
	Barcode string `json:"barcode" binding:"required"`
}

// RegisterCopy handles POST /api/copies: a new physical copy enters the
// pool in Available state, identified by its shelf barcode.
func (h *Handler) RegisterCopy(c *gin.Context) {
	var req registerCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	parsed, err := parse.ParseBarcode(req.Barcode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.store.GetBook(c.Request.Context(), req.BookID); err != nil {
		respondError(c, err)
		return
	}

	cp := model.Copy{
		BookID:  req.BookID,
		Barcode: parsed.Canonical(),
		Seq:     parsed.CopySeq,
		Status:  model.CopyAvailable,
	}
	if err := h.store.CreateCopy(c.Request.Context(), &cp); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The copy just became Available; hand it to the waitlist head if one
	// is waiting.
	if err := h.scheduler.Reconcile(c.Request.Context(), req.BookID); err != nil {
		respondError(c, err)
		return
	}
	if refreshed, err := h.store.GetCopy(c.Request.Context(), cp.ID); err == nil {
		cp = refreshed
	}

	c.JSON(http.StatusCreated, copyResponse{
		ID:      cp.ID,
		BookID:  cp.BookID,
		Barcode: cp.Barcode,
		Seq:     cp.Seq,
		Status:  cp.Status,
	})
}

// ReleaseCopy handles POST /api/copies/:id/release, called by loan
// processing when a copy is returned.
func (h *Handler) ReleaseCopy(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid copy ID"})
		return
	}

	if err := h.scheduler.ReleaseCopy(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// WithdrawCopy handles POST /api/copies/:id/withdraw.
func (h *Handler) WithdrawCopy(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid copy ID"})
		return
	}

	if err := h.scheduler.WithdrawCopy(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
