package admin

import (
	"errors"
	"net/http"
	"time"

	"finchart-app/internal/domain/billing"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/domain/users"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type AdminUser struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Email        string             `json:"email"`
	Role         string             `json:"role"`
	AuthProvider string             `json:"auth_provider"`
	IsVerified   bool               `json:"is_verified"`
	CreatedAt    time.Time          `json:"created_at"`
	Subscription *AdminSubscription `json:"subscription,omitempty"`
}

type AdminSubscription struct {
	UserID               string     `json:"user_id"`
	Email                string     `json:"email,omitempty"`
	Status               string     `json:"status"`
	PriceID              string     `json:"price_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	Active               bool       `json:"active"`
}

type AdminPayment struct {
	ID         uint    `json:"id"`
	AmountUSD  float64 `json:"amount_usd"`
	Currency   string  `json:"currency"`
	Status     string  `json:"status"`
	InvoiceID  string  `json:"invoice_id,omitempty"`
	ReceiptURL *string `json:"receipt_url,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

type AdminStats struct {
	TotalUsers          int            `json:"total_users"`
	ActiveSubscriptions int            `json:"active_subscriptions"`
	TotalRevenue        float64        `json:"total_revenue"`
	RecentRevenue       float64        `json:"recent_revenue"`
	UsersPerPrice       map[string]int `json:"users_per_price"`
}

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func toAdminSubscription(s subscriptions.Subscription, now time.Time) *AdminSubscription {
	return &AdminSubscription{
		UserID:               s.UserID,
		Status:               s.Status,
		PriceID:              s.PriceID,
		StripeSubscriptionID: s.StripeSubscriptionID,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		Active:               s.IsActiveAt(now),
	}
}

// ListUsers returns every account with its subscription state inlined.
func (h *Handler) ListUsers(c *gin.Context) {
	var all []users.User
	if err := h.db.Order("created_at DESC").Find(&all).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load users"})
		return
	}

	var subs []subscriptions.Subscription
	if err := h.db.Find(&subs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscriptions"})
		return
	}
	byUser := make(map[string]subscriptions.Subscription, len(subs))
	for _, s := range subs {
		byUser[s.UserID] = s
	}

	now := time.Now()
	out := make([]AdminUser, 0, len(all))
	for _, u := range all {
		au := AdminUser{
			ID:           u.ID,
			Name:         u.Name,
			Email:        u.Email,
			Role:         u.Role,
			AuthProvider: u.AuthProvider,
			IsVerified:   u.IsVerified,
			CreatedAt:    u.CreatedAt,
		}
		if s, ok := byUser[u.ID]; ok {
			au.Subscription = toAdminSubscription(s, now)
		}
		out = append(out, au)
	}

	c.JSON(http.StatusOK, out)
}

// ListSubscriptions returns every local subscription row with the owner's
// email attached, most recently updated first.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	var subs []subscriptions.Subscription
	if err := h.db.Order("updated_at DESC").Find(&subs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscriptions"})
		return
	}

	emails := map[string]string{}
	if len(subs) > 0 {
		ids := make([]string, 0, len(subs))
		for _, s := range subs {
			ids = append(ids, s.UserID)
		}
		var owners []users.User
		if err := h.db.Where("id IN ?", ids).Find(&owners).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load users"})
			return
		}
		for _, u := range owners {
			emails[u.ID] = u.Email
		}
	}

	now := time.Now()
	out := make([]AdminSubscription, 0, len(subs))
	for _, s := range subs {
		as := toAdminSubscription(s, now)
		as.Email = emails[s.UserID]
		out = append(out, *as)
	}

	c.JSON(http.StatusOK, out)
}

// GetStats serves the dashboard counters.
func (h *Handler) GetStats(c *gin.Context) {
	var stats AdminStats
	now := time.Now()

	var totalUsers int64
	h.db.Model(&users.User{}).Count(&totalUsers)
	stats.TotalUsers = int(totalUsers)

	var active int64
	h.db.Model(&subscriptions.Subscription{}).
		Where("status = ? AND current_period_end > ?", subscriptions.StatusActive, now).
		Count(&active)
	stats.ActiveSubscriptions = int(active)

	h.db.Model(&billing.Payment{}).Where("status = ?", "paid").
		Select("COALESCE(SUM(amount_usd), 0)").Scan(&stats.TotalRevenue)

	thirtyDaysAgo := now.AddDate(0, 0, -30)
	h.db.Model(&billing.Payment{}).
		Where("status = ? AND created_at >= ?", "paid", thirtyDaysAgo).
		Select("COALESCE(SUM(amount_usd), 0)").Scan(&stats.RecentRevenue)

	type priceCount struct {
		PriceID string
		Count   int
	}
	var counts []priceCount
	h.db.Model(&subscriptions.Subscription{}).
		Select("price_id, COUNT(id) as count").
		Group("price_id").
		Scan(&counts)

	stats.UsersPerPrice = map[string]int{}
	for _, pc := range counts {
		name := pc.PriceID
		if name == "" {
			name = "unknown"
		}
		stats.UsersPerPrice[name] = pc.Count
	}

	c.JSON(http.StatusOK, stats)
}

// GetUserDetails returns one account with its subscription and payment
// history for support lookups.
func (h *Handler) GetUserDetails(c *gin.Context) {
	userID := c.Param("id")

	var user users.User
	if err := h.db.Where("id = ?", userID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	now := time.Now()
	au := AdminUser{
		ID:           user.ID,
		Name:         user.Name,
		Email:        user.Email,
		Role:         user.Role,
		AuthProvider: user.AuthProvider,
		IsVerified:   user.IsVerified,
		CreatedAt:    user.CreatedAt,
	}

	var sub subscriptions.Subscription
	err := h.db.Where("user_id = ?", userID).First(&sub).Error
	if err == nil {
		au.Subscription = toAdminSubscription(sub, now)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load subscription"})
		return
	}

	var payments []billing.Payment
	if err := h.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&payments).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payments"})
		return
	}
	history := make([]AdminPayment, 0, len(payments))
	for _, p := range payments {
		history = append(history, AdminPayment{
			ID:         p.ID,
			AmountUSD:  p.AmountUSD,
			Currency:   p.Currency,
			Status:     p.Status,
			InvoiceID:  p.StripeInvoiceID,
			ReceiptURL: p.ReceiptURL,
			CreatedAt:  p.CreatedAt.Format("2006-01-02 15:04"),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"user":     au,
		"payments": history,
	})
}
