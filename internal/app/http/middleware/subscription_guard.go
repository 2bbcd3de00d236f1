package middleware

import (
	"errors"
	"net/http"
	"time"

	"finchart-app/internal/domain/subscriptions"

	"github.com/gin-gonic/gin"
)

// RequireActiveSubscription gates premium routes on the local subscription
// row: status active and the paid period not yet lapsed. Runs after
// AuthMiddleware, which put user_id into the context.
func RequireActiveSubscription(store *subscriptions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		sub, err := store.GetByUserID(c.Request.Context(), userID)
		if errors.Is(err, subscriptions.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Subscription required"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Could not check subscription"})
			return
		}

		if !sub.IsActiveAt(time.Now()) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "Your subscription is not active"})
			return
		}

		c.Next()
	}
}
