package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"library-reserve-backend/config"
	"library-reserve-backend/internal/db"
	"library-reserve-backend/internal/model"
	"library-reserve-backend/internal/scheduler"
	"library-reserve-backend/internal/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))

	st := store.NewGormStore(gormDB)
	sched := scheduler.New(st, config.SchedulerConfig{
		PickupGrace:       48 * time.Hour,
		AllocationRetries: 3,
		RetryBackoff:      5 * time.Millisecond,
	}, nil)

	router := NewRouter(st, sched, &webpush.Options{VAPIDPublicKey: "test-public-key"}, RouterOptions{
		RateLimitPerSec: 1000,
		RateLimitBurst:  1000,
		CacheTTL:        time.Minute,
	})
	return router, gormDB
}

func seedBookWithCopy(t *testing.T, gormDB *gorm.DB, status model.CopyStatus) (model.Book, model.Copy) {
	t.Helper()
	book := model.Book{Title: "The Little Schemer", Section: "SCI"}
	require.NoError(t, gormDB.Create(&book).Error)
	c := model.Copy{BookID: book.ID, Barcode: fmt.Sprintf("SCI-%04d-01", book.ID), Seq: 1, Status: status}
	require.NoError(t, gormDB.Create(&c).Error)
	return book, c
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateReservationEndpoint(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyAvailable)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{
		"user_id": 1, "book_id": book.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(model.StatePendingApproval), resp["state"])
	assert.NotNil(t, resp["copy_id"])
	assert.NotNil(t, resp["pickup_deadline"])
}

func TestCreateReservationDuplicateConflict(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyLoaned)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID})
	require.Equal(t, http.StatusConflict, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "duplicate_active_reservation", resp["kind"])
}

func TestCreateReservationValidation(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyAvailable)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": 999999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID, "kind": "BOGUS"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID, "copy_id": 999999})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCancelReservationEndpoint(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyLoaned)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := int64(created["id"].(float64))

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/reservations/%d", id), gin.H{"acting_user_id": 2})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/reservations/%d", id), gin.H{"acting_user_id": 1})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/reservations/%d", id), gin.H{"acting_user_id": 1})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestQueuePositionEndpoint(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyLoaned)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := int64(created["id"].(float64))

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/books/%d/reservations/%d/position", book.ID, id), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["queue_position"])

	// Unknown reservation for this book
	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/books/%d/reservations/%d/position", book.ID+1, id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRegisterCopyEndpoint(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book := model.Book{Title: "SICP"}
	require.NoError(t, gormDB.Create(&book).Error)

	w := doJSON(t, router, http.MethodPost, "/api/copies", gin.H{"book_id": book.ID, "barcode": "fic-0231-02"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FIC-0231-02", resp["barcode"])
	assert.Equal(t, float64(2), resp["seq"])
	assert.Equal(t, string(model.CopyAvailable), resp["status"])

	w = doJSON(t, router, http.MethodPost, "/api/copies", gin.H{"book_id": book.ID, "barcode": "not-a-barcode"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterCopyPromotesWaitlist(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book := model.Book{Title: "Gödel, Escher, Bach", Section: "SCI"}
	require.NoError(t, gormDB.Create(&book).Error)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.Equal(t, string(model.StateWaitlisted), created["state"])
	id := int64(created["id"].(float64))

	// The first copy entering the pool goes straight to the waitlist head.
	w = doJSON(t, router, http.MethodPost, "/api/copies", gin.H{
		"book_id": book.ID,
		"barcode": fmt.Sprintf("SCI-%04d-01", book.ID),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, string(model.CopyReserved), resp["status"])

	var promoted model.Reservation
	require.NoError(t, gormDB.First(&promoted, id).Error)
	assert.Equal(t, model.StatePendingApproval, promoted.State)
	require.NotNil(t, promoted.CopyID)
}

func TestListBookReservationsEndpoint(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyAvailable)

	w := doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 1, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	w = doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 2, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var second map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	cancelID := int64(second["id"].(float64))

	w = doJSON(t, router, http.MethodPost, "/api/reservations", gin.H{"user_id": 3, "book_id": book.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	// Cancelled claims drop out of the staff view.
	w = doJSON(t, router, http.MethodDelete, fmt.Sprintf("/api/reservations/%d", cancelID), gin.H{"acting_user_id": 2})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/books/%d/reservations", book.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 2)
	assert.Equal(t, float64(1), listed[0]["user_id"])
	assert.Equal(t, string(model.StatePendingApproval), listed[0]["state"])
	assert.Equal(t, float64(3), listed[1]["user_id"])
	assert.Equal(t, string(model.StateWaitlisted), listed[1]["state"])
}

func TestAdminSweepEndpoint(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, c := seedBookWithCopy(t, gormDB, model.CopyReserved)

	past := time.Now().UTC().Add(-time.Hour)
	r := model.Reservation{
		UserID: 1, BookID: book.ID, CopyID: &c.ID,
		Kind: model.KindDirectPickup, State: model.StatePendingApproval,
		Seq: 1, RequestedAt: past.Add(-time.Hour), PickupDeadline: &past,
	}
	require.NoError(t, gormDB.Create(&r).Error)

	w := doJSON(t, router, http.MethodPost, "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["expired"])

	var stored model.Reservation
	require.NoError(t, gormDB.First(&stored, r.ID).Error)
	assert.Equal(t, model.StateExpired, stored.State)

	var freed model.Copy
	require.NoError(t, gormDB.First(&freed, c.ID).Error)
	assert.Equal(t, model.CopyAvailable, freed.Status)
}

func TestGetBooksAggregation(t *testing.T) {
	router, gormDB := newTestRouter(t)
	book, _ := seedBookWithCopy(t, gormDB, model.CopyAvailable)
	c2 := model.Copy{BookID: book.ID, Barcode: fmt.Sprintf("SCI-%04d-02", book.ID), Seq: 2, Status: model.CopyLoaned}
	require.NoError(t, gormDB.Create(&c2).Error)

	w := doJSON(t, router, http.MethodGet, "/api/books", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp []BookResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, int64(2), resp[0].TotalCopies)
	assert.Equal(t, int64(1), resp[0].AvailableCopies)
}

func TestVAPIDKeyEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/vapid_public_key", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "test-public-key", resp["public_key"])
}
