package billing

import (
	"time"

	"finchart-app/internal/domain/users"
)

type Payment struct {
	ID                   uint       `gorm:"primaryKey"`
	UserID               string     `gorm:"type:uuid;index"`
	User                 users.User `json:"-"`
	StripeInvoiceID      string     `gorm:"uniqueIndex"`
	StripeSubscriptionID *string
	AmountUSD            float64
	Currency             string
	Status               string // "paid" | "failed"
	ReceiptURL           *string
	CreatedAt            time.Time
}
