package plans

import (
	"net/http"

	"finchart-app/config"
	"finchart-app/internal/domain/plans"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/price"
	"gorm.io/gorm"
)

type Handler struct {
	db *gorm.DB

	// Price listing drains the provider's pagination iterator; overridable
	// in tests.
	listPrices func() ([]*stripe.Price, error)
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db, listPrices: listRecurringPrices}
}

func listRecurringPrices() ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{}
	params.Active = stripe.Bool(true)
	params.Type = stripe.String("recurring")
	params.AddExpand("data.product")

	it := price.List(params)

	var out []*stripe.Price
	for it.Next() {
		out = append(out, it.Price())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SyncPlansFromStripe mirrors the provider's active recurring prices into
// the plans table, which doubles as the checkout allow-list. Admin only.
func (h *Handler) SyncPlansFromStripe(c *gin.Context) {
	if config.STRIPE_SECRET_KEY == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe key not configured"})
		return
	}

	prices, err := h.listPrices()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch Stripe prices"})
		return
	}

	synced := 0
	created := 0
	updated := 0
	skipped := 0

	for _, p := range prices {
		if !p.Active || p.Recurring == nil || p.Product == nil || !p.Product.Active {
			skipped++
			continue
		}

		if string(p.Currency) != "usd" {
			skipped++
			continue
		}

		// Prices can opt out of the pricing page via metadata.
		if p.Metadata["visible"] == "false" {
			skipped++
			continue
		}

		amount := float64(p.UnitAmount) / 100.0

		displayName := p.Product.Name
		if v := p.Metadata["plan"]; v != "" {
			displayName = v
		}
		tier := plans.NormalizeTier(p.Metadata["tier"])

		var existing plans.Plan
		err := h.db.Where("stripe_price_id = ?", p.ID).First(&existing).Error

		if err != nil {
			plan := plans.Plan{
				Name:          displayName,
				PriceUSD:      amount,
				StripePriceID: p.ID,
				Interval:      string(p.Recurring.Interval),
				Tier:          tier,
			}
			if err := h.db.Create(&plan).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create plan"})
				return
			}
			created++
		} else {
			existing.Name = displayName
			existing.PriceUSD = amount
			existing.Interval = string(p.Recurring.Interval)
			existing.Tier = tier

			if err := h.db.Save(&existing).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update plan"})
				return
			}
			updated++
		}

		synced++
	}

	c.JSON(http.StatusOK, gin.H{
		"synced":  synced,
		"created": created,
		"updated": updated,
		"skipped": skipped,
	})
}

func (h *Handler) ListPlans(c *gin.Context) {
	var plansList []plans.Plan
	if err := h.db.Model(&plans.Plan{}).Order("price_usd ASC").Find(&plansList).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load plans"})
		return
	}

	c.JSON(http.StatusOK, plansList)
}
