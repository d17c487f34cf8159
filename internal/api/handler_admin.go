package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TriggerSweep handles POST /api/admin/sweep. An external cron hits this to
// expire overdue pickups; the core owns no timer of its own.
func (h *Handler) TriggerSweep(c *gin.Context) {
	n, err := h.scheduler.SweepExpired(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// TriggerAudit handles POST /api/admin/audit: the consistency repair pass
// that heals orphaned Reserved copies and renumbers waitlists.
func (h *Handler) TriggerAudit(c *gin.Context) {
	healed, err := h.scheduler.Audit(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"healed_copies": healed})
}
