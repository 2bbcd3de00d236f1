package billing

import (
	"errors"
	"net/http"
	"time"

	"finchart-app/internal/domain/subscriptions"

	"github.com/gin-gonic/gin"
)

// SubscriptionStatus answers the access predicate on demand for page-level
// checks. Absence of a row is a normal answer, not an error.
func (h *Handler) SubscriptionStatus(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId"})
		return
	}

	sub, err := h.subs.GetByUserID(c.Request.Context(), userID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"active": false, "status": "none"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}

	resp := gin.H{
		"active":            sub.IsActiveAt(time.Now()),
		"status":            sub.Status,
		"cancelAtPeriodEnd": sub.CancelAtPeriodEnd,
		"priceId":           sub.PriceID,
	}
	if sub.CurrentPeriodEnd != nil {
		resp["currentPeriodEnd"] = sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
	}

	c.JSON(http.StatusOK, resp)
}
