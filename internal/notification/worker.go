package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"library-reserve-backend/internal/model"
	"library-reserve-backend/internal/store"
)

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is the real Sender implementation using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool delivers outbox events to the reserving user's push
// subscriptions. Jobs are outbox event IDs; the event row is the source of
// truth, so a crashed delivery can be replayed from undelivered rows.
type WorkerPool struct {
	size    int
	jobs    chan int64
	store   store.Store
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, s store.Store, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*4),
		store:   s,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("notification worker %d started", id)
	for {
		select {
		case eventID := <-wp.jobs:
			wp.deliverEvent(ctx, eventID)
		case <-ctx.Done():
			log.Printf("notification worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues one committed outbox event for delivery. Implements
// scheduler.Dispatcher.
func (wp *WorkerPool) Dispatch(eventID int64) {
	select {
	case wp.jobs <- eventID:
	default:
		// Queue full; the row stays undelivered and is picked up by replay.
		log.Printf("notification queue full, deferring event %d to replay", eventID)
	}
}

// ReplayUndelivered re-queues outbox rows that never got delivered, e.g.
// after a crash between commit and dispatch. Call on startup.
func (wp *WorkerPool) ReplayUndelivered(ctx context.Context, limit int) error {
	events, err := wp.store.ListUndeliveredEvents(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list undelivered events: %w", err)
	}
	for _, ev := range events {
		wp.Dispatch(ev.ID)
	}
	if len(events) > 0 {
		log.Printf("replaying %d undelivered notification events", len(events))
	}
	return nil
}

// deliverEvent sends one event to every subscription of the affected user
// and marks the outbox row delivered.
func (wp *WorkerPool) deliverEvent(ctx context.Context, eventID int64) {
	ev, err := wp.store.GetEvent(ctx, eventID)
	if err != nil {
		log.Printf("error fetching event %d: %v", eventID, err)
		return
	}
	if ev.DeliveredAt != nil {
		return
	}

	subs, err := wp.store.SubscriptionsForUser(ctx, ev.UserID)
	if err != nil {
		log.Printf("error fetching subscriptions for user %d: %v", ev.UserID, err)
		return
	}

	payload := []byte(messageFor(ev))
	for _, sub := range subs {
		wp.sendNotification(ctx, sub, payload)
	}

	if err := wp.store.MarkEventDelivered(ctx, ev.ID, time.Now().UTC()); err != nil {
		log.Printf("failed to mark event %d delivered: %v", ev.ID, err)
	}
}

// messageFor renders the user-visible wording for one event type.
func messageFor(ev model.NotificationEvent) string {
	switch ev.Type {
	case model.EventWaitlisted:
		return fmt.Sprintf("You are on the waitlist for book %d.", ev.BookID)
	case model.EventReadyForPickup:
		return fmt.Sprintf("A copy of book %d is being held for you. Please pick it up before the deadline.", ev.BookID)
	case model.EventApproved:
		return fmt.Sprintf("Your reservation for book %d has been approved.", ev.BookID)
	case model.EventRejected:
		return fmt.Sprintf("Your reservation for book %d was rejected by staff.", ev.BookID)
	case model.EventExpired:
		return fmt.Sprintf("Your reservation for book %d has expired.", ev.BookID)
	case model.EventCancelled:
		return fmt.Sprintf("Your reservation for book %d has been cancelled.", ev.BookID)
	case model.EventCompleted:
		return fmt.Sprintf("Your pickup for book %d is confirmed. Enjoy!", ev.BookID)
	default:
		return fmt.Sprintf("Update on your reservation for book %d.", ev.BookID)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("subscription %s is expired, deleting", sub.Endpoint)
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.Printf("failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
