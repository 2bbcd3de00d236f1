package users

import (
	"errors"
	"net/http"
	"time"

	"finchart-app/config"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/domain/users"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Handler struct {
	db   *gorm.DB
	subs *subscriptions.Store
}

func NewHandler(db *gorm.DB, subs *subscriptions.Store) *Handler {
	return &Handler{db: db, subs: subs}
}

// GetCurrentUser serves /api/me: identity plus the local subscription
// mirror the frontend gates pages on.
func (h *Handler) GetCurrentUser(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user users.User
	if err := h.db.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	sub, err := h.subs.GetByUserID(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}

	now := time.Now()
	resp := MeResponse{
		User: UserDTO{
			ID:           user.ID,
			Email:        user.Email,
			Name:         user.Name,
			Role:         user.Role,
			AuthProvider: user.AuthProvider,
			IsVerified:   user.IsVerified,
		},
		Subscription: BuildSubscriptionDTO(sub, now),
		Access:       BuildAccessDTO(sub, now),
	}

	c.JSON(http.StatusOK, resp)
}

// VerifyEmail lands from the link in the verification email, so it answers
// with a redirect instead of JSON.
func (h *Handler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token"})
		return
	}

	var verif users.VerificationToken
	err := h.db.Where("token = ? AND type = ?", token, users.TokenTypeVerifyEmail).First(&verif).Error
	if err != nil || verif.ExpiresAt.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
		return
	}

	if err := h.db.Model(&users.User{}).Where("id = ?", verif.UserID).Update("is_verified", true).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify user"})
		return
	}

	// Single use.
	h.db.Delete(&verif)

	c.Redirect(http.StatusTemporaryRedirect, config.FRONTEND_URL+"/login?verified=1")
}
