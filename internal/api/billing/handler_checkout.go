package billing

import (
	"errors"
	"net/http"

	"finchart-app/config"
	"finchart-app/internal/domain/plans"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/domain/users"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	portalSession "github.com/stripe/stripe-go/v75/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v75/checkout/session"
	"github.com/stripe/stripe-go/v75/customer"
	"gorm.io/gorm"
)

// Handler serves the billing surface: hosted checkout, the billing portal,
// the status endpoint, and payment history. Everything that touches money
// is delegated to the payment provider; this app never sees card data.
type Handler struct {
	db   *gorm.DB
	subs *subscriptions.Store

	// Provider calls, overridable in tests.
	newCustomer        func(params *stripe.CustomerParams) (*stripe.Customer, error)
	newCheckoutSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	newPortalSession   func(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

func NewHandler(db *gorm.DB, subs *subscriptions.Store) *Handler {
	return &Handler{
		db:                 db,
		subs:               subs,
		newCustomer:        customer.New,
		newCheckoutSession: checkoutsession.New,
		newPortalSession:   portalSession.New,
	}
}

// CreateCheckoutSession starts a subscription-mode hosted checkout. The
// user id travels to the provider twice (client_reference_id and
// subscription metadata) so the webhook can attribute the resulting
// subscription without guessing.
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var body struct {
		UserID  string `json:"userId"`
		PriceID string `json:"priceId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid userId"})
		return
	}

	if config.STRIPE_SECRET_KEY == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	var user users.User
	if err := h.db.Where("id = ?", body.UserID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if !user.IsVerified {
		c.JSON(http.StatusForbidden, gin.H{"error": "Please verify your email first"})
		return
	}

	priceID, err := h.resolvePriceID(body.PriceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	customerID, err := h.ensureCustomer(&user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Stripe customer"})
		return
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(config.FRONTEND_URL + "/dashboard?checkout=success"),
		CancelURL:  stripe.String(config.FRONTEND_URL + "/pricing?canceled=1"),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),

		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},

		ClientReferenceID: stripe.String(user.ID),

		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": user.ID,
			},
		},
	}

	s, err := h.newCheckoutSession(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessionId": s.ID, "url": s.URL})
}

// CreateBillingPortal hands the user to the provider's hosted portal, where
// plan changes and cancellations happen. The webhook brings the outcome
// back.
func (h *Handler) CreateBillingPortal(c *gin.Context) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid userId"})
		return
	}

	if config.STRIPE_SECRET_KEY == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	var user users.User
	if err := h.db.Where("id = ?", body.UserID).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "No Stripe customer yet (subscribe first)"})
		return
	}

	portal, err := h.newPortalSession(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*user.StripeCustomerID),
		ReturnURL: stripe.String(config.FRONTEND_URL + "/dashboard"),
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create billing portal session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": portal.URL})
}

// resolvePriceID allow-lists a client-supplied price against the plans
// table; with nothing supplied the configured default applies.
func (h *Handler) resolvePriceID(requested string) (string, error) {
	if requested == "" {
		if config.STRIPE_PRICE_ID == "" {
			return "", errors.New("No price configured")
		}
		return config.STRIPE_PRICE_ID, nil
	}

	var plan plans.Plan
	if err := h.db.Where("stripe_price_id = ?", requested).First(&plan).Error; err != nil {
		return "", errors.New("Unknown priceId")
	}
	return plan.StripePriceID, nil
}

// ensureCustomer creates the provider customer on first use and stores the
// binding on the user row. The webhook's attribution ladder depends on
// that binding for metadata-less events.
func (h *Handler) ensureCustomer(user *users.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	cus, err := h.newCustomer(&stripe.CustomerParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
		Metadata: map[string]string{
			"user_id": user.ID,
		},
	})
	if err != nil {
		return "", err
	}

	if err := h.db.Model(&users.User{}).
		Where("id = ?", user.ID).
		Update("stripe_customer_id", cus.ID).Error; err != nil {
		return "", err
	}

	user.StripeCustomerID = stripe.String(cus.ID)
	return cus.ID, nil
}
