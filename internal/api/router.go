package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"library-reserve-backend/internal/mw"
	"library-reserve-backend/internal/scheduler"
	"library-reserve-backend/internal/store"
)

// RouterOptions carries the tunables for middleware assembly.
type RouterOptions struct {
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(s store.Store, sched *scheduler.Scheduler, webpushOptions *webpush.Options, opts RouterOptions) *gin.Engine {
	r := gin.Default()

	db := s.DB()
	handler := NewHandler(s, sched, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst)

	cacheStore := cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	caching := mw.Cache(cacheStore, opts.CacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Catalog surface (thin)
		api.GET("/books", caching, GetBooks(db))
		api.POST("/books", handler.CreateBook)
		api.GET("/books/:book_id/copies", handler.GetBookCopies)
		api.POST("/copies", handler.RegisterCopy)
		api.POST("/copies/:id/release", handler.ReleaseCopy)
		api.POST("/copies/:id/withdraw", handler.WithdrawCopy)

		// Reservation scheduling
		api.POST("/reservations", handler.CreateReservation)
		api.GET("/reservations/:id", handler.GetReservation)
		api.DELETE("/reservations/:id", handler.CancelReservation)
		api.POST("/reservations/:id/approve", handler.ApproveReservation)
		api.POST("/reservations/:id/complete", handler.CompleteReservation)
		api.GET("/books/:book_id/reservations", handler.GetBookReservations)
		api.GET("/books/:book_id/reservations/:id/position", handler.GetQueuePosition)

		// Push subscriptions
		api.GET("/subscriptions", handler.GetSubscriptions)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		// Operational triggers (external cron)
		api.POST("/admin/sweep", handler.TriggerSweep)
		api.POST("/admin/audit", handler.TriggerAudit)
	}

	return r
}
