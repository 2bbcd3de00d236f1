package routes

import (
	adminapi "finchart-app/internal/api/admin"
	authapi "finchart-app/internal/api/auth"
	billingapi "finchart-app/internal/api/billing"
	chatapi "finchart-app/internal/api/chat"
	plansapi "finchart-app/internal/api/plans"
	stripewebhooks "finchart-app/internal/api/stripewebhook"
	usersapi "finchart-app/internal/api/users"
	watchlistapi "finchart-app/internal/api/watchlist"
	"finchart-app/internal/app/http/middleware"
	"finchart-app/internal/domain/subscriptions"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps carries the constructed handlers into route registration. Everything
// is built once in main and injected; no package globals.
type Deps struct {
	Auth      *authapi.Handler
	Users     *usersapi.Handler
	Billing   *billingapi.Handler
	Plans     *plansapi.Handler
	Chat      *chatapi.Handler
	Watchlist *watchlistapi.Handler
	Admin     *adminapi.Handler
	Webhook   *stripewebhooks.Handler
	Subs      *subscriptions.Store
	Registry  *prometheus.Registry
}

func RegisterRoutes(r *gin.Engine, deps Deps) {
	// The webhook route must see the request body byte-exact, so no
	// body-rewriting middleware is mounted anywhere near it.
	r.POST("/api/stripe-webhook", deps.Webhook.HandleWebhook)
	r.GET("/api/stripe-webhook", deps.Webhook.MethodNotAllowed)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// Public routes take form-like JSON input, so strip any markup first.
	public := r.Group("/")
	public.Use(middleware.SanitizeAndCleanInputMiddleware())

	public.POST("/register", deps.Auth.Register)
	public.POST("/login", deps.Auth.Login)
	public.POST("/resend-verification", deps.Auth.ResendVerification)
	public.POST("/request-password-reset", deps.Auth.RequestPasswordReset)
	public.POST("/reset-password", deps.Auth.ResetPassword)

	public.GET("/verify", deps.Users.VerifyEmail)
	public.GET("/auth/google", deps.Auth.GoogleStart)
	public.GET("/auth/callback", deps.Auth.GoogleCallback)
	public.GET("/api/plans", deps.Plans.ListPlans)

	// Authenticated
	authed := r.Group("/")
	authed.Use(middleware.AuthMiddleware())

	authed.GET("/api/me", deps.Users.GetCurrentUser)
	authed.POST("/auth/change-password", deps.Auth.ChangePassword)

	authed.POST("/api/create-checkout-session", deps.Billing.CreateCheckoutSession)
	authed.POST("/api/create-portal-session", deps.Billing.CreateBillingPortal)
	authed.GET("/api/subscription-status", deps.Billing.SubscriptionStatus)
	authed.GET("/api/payments", deps.Billing.GetPaymentHistory)

	authed.GET("/api/watchlist", deps.Watchlist.List)
	authed.POST("/api/watchlist", deps.Watchlist.Add)
	authed.DELETE("/api/watchlist/:id", deps.Watchlist.Remove)
	authed.PUT("/api/watchlist/reorder", deps.Watchlist.Reorder)

	// Subscribers only
	premium := authed.Group("/")
	premium.Use(middleware.RequireActiveSubscription(deps.Subs))
	premium.POST("/api/chat", deps.Chat.Chat)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.RequireRole("admin"))
	admin.GET("/users", deps.Admin.ListUsers)
	admin.GET("/users/:id", deps.Admin.GetUserDetails)
	admin.GET("/subscriptions", deps.Admin.ListSubscriptions)
	admin.GET("/stats", deps.Admin.GetStats)
	admin.POST("/sync-plans", deps.Plans.SyncPlansFromStripe)
}
