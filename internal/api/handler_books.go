package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"library-reserve-backend/internal/model"
)

// BookResponse represents the API response for a single book with its
// copy-availability aggregation.
type BookResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Section         string `json:"section"`
	TotalCopies     int64  `json:"totalCopies"`
	AvailableCopies int64  `json:"availableCopies"`
	WaitlistLength  int64  `json:"waitlistLength"`
}

// GetBooks handles the GET /api/books request.
func GetBooks(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var books []model.Book
		if err := db.Find(&books).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve books"})
			return
		}

		type copyAgg struct {
			BookID    int64
			Total     int64
			Available int64
		}
		var copyAggs []copyAgg
		if err := db.
			Model(&model.Copy{}).
			Select("book_id as book_id, COUNT(*) as total, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) as available", model.CopyAvailable).
			Group("book_id").
			Scan(&copyAggs).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate copies"})
			return
		}

		type waitAgg struct {
			BookID int64
			N      int64
		}
		var waitAggs []waitAgg
		if err := db.
			Model(&model.Reservation{}).
			Select("book_id as book_id, COUNT(*) as n").
			Where("state = ?", model.StateWaitlisted).
			Group("book_id").
			Scan(&waitAggs).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate waitlists"})
			return
		}

		copyMap := make(map[int64]copyAgg, len(copyAggs))
		for _, a := range copyAggs {
			copyMap[a.BookID] = a
		}
		waitMap := make(map[int64]int64, len(waitAggs))
		for _, a := range waitAggs {
			waitMap[a.BookID] = a.N
		}

		responses := make([]BookResponse, 0, len(books))
		for _, b := range books {
			a := copyMap[b.ID]
			responses = append(responses, BookResponse{
				ID:              b.ID,
				Title:           b.Title,
				Section:         b.Section,
				TotalCopies:     a.Total,
				AvailableCopies: a.Available,
				WaitlistLength:  waitMap[b.ID],
			})
		}
		c.JSON(http.StatusOK, responses)
	}
}

type createBookRequest struct {
	Title   string `json:"title" binding:"required"`
	Section string `json:"section"`
}

// CreateBook handles POST /api/books. Catalog metadata lives elsewhere; this
// registers the minimal row the scheduler needs.
func (h *Handler) CreateBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book := model.Book{Title: req.Title, Section: req.Section}
	if err := h.store.CreateBook(c.Request.Context(), &book); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": book.ID})
}

// copyResponse is the API shape of a physical copy.
type copyResponse struct {
	ID      int64            `json:"id"`
	BookID  int64            `json:"book_id"`
	Barcode string           `json:"barcode"`
	Seq     int              `json:"seq"`
	Status  model.CopyStatus `json:"status"`
}

// GetBookCopies handles GET /api/books/:book_id/copies.
func (h *Handler) GetBookCopies(c *gin.Context) {
	bookID, err := strconv.ParseInt(c.Param("book_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid book ID"})
		return
	}

	copies, err := h.store.ListCopiesByBook(c.Request.Context(), bookID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve copies"})
		return
	}

	responses := make([]copyResponse, 0, len(copies))
	for _, cp := range copies {
		responses = append(responses, copyResponse{
			ID:      cp.ID,
			BookID:  cp.BookID,
			Barcode: cp.Barcode,
			Seq:     cp.Seq,
			Status:  cp.Status,
		})
	}
	c.JSON(http.StatusOK, responses)
}
