package mw

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientLimiters stores a token bucket per client IP. Entries idle longer
// than staleAfter are dropped on the next sweep.
type clientLimiters struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	r          rate.Limit
	b          int
	staleAfter time.Duration
	lastSweep  time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(r rate.Limit, b int) *clientLimiters {
	return &clientLimiters{
		clients:    make(map[string]*clientEntry),
		r:          r,
		b:          b,
		staleAfter: 10 * time.Minute,
		lastSweep:  time.Now(),
	}
}

// allow consumes one token for the given IP, creating its bucket on first use.
func (c *clientLimiters) allow(ip string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if now.Sub(c.lastSweep) > c.staleAfter {
		for key, entry := range c.clients {
			if now.Sub(entry.lastSeen) > c.staleAfter {
				delete(c.clients, key)
			}
		}
		c.lastSweep = now
	}

	entry, ok := c.clients[ip]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(c.r, c.b)}
		c.clients[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

// RateLimiter is a middleware for IP-based rate limiting.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiters := newClientLimiters(r, b)
	return func(c *gin.Context) {
		if !limiters.allow(c.ClientIP()) {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
