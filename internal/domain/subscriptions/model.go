package subscriptions

import "time"

// Status values mirror the payment provider's vocabulary. The store keeps
// whatever raw value the provider last sent; access decisions go through
// IsActiveAt only.
const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusPastDue           = "past_due"
	StatusCanceled          = "canceled"
	StatusUnpaid            = "unpaid"
	StatusIncomplete        = "incomplete"
	StatusIncompleteExpired = "incomplete_expired"
)

// Subscription is the local mirror of a user's provider subscription.
// At most one row exists per user: a churn-and-resubscribe overwrites the
// old row rather than appending a new one.
type Subscription struct {
	ID                   uint   `gorm:"primaryKey"`
	UserID               string `gorm:"type:uuid;not null;uniqueIndex:idx_subscriptions_user_id"`
	StripeCustomerID     string `gorm:"column:stripe_customer_id;index"`
	StripeSubscriptionID string `gorm:"column:stripe_subscription_id;index"`
	Status               string
	PriceID              string     `gorm:"column:price_id"`
	CurrentPeriodStart   *time.Time `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool       `gorm:"column:cancel_at_period_end"`
	CancelAt             *time.Time `gorm:"column:cancel_at"`
	CanceledAt           *time.Time `gorm:"column:canceled_at"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsActiveAt reports whether the subscription grants paid access at the
// given instant: the provider says active AND the paid-through period has
// not lapsed. A pending cancellation (cancel_at_period_end) keeps access
// until the period actually ends.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != StatusActive {
		return false
	}
	if s.CurrentPeriodEnd == nil {
		return false
	}
	return now.Before(*s.CurrentPeriodEnd)
}

func (s *Subscription) IsActive() bool {
	return s.IsActiveAt(time.Now())
}

// AccessState is the coarse answer surfaced to /api/me and the admin
// listings. It folds the provider statuses down to what the frontend
// actually branches on.
type AccessState string

const (
	AccessNone     AccessState = "none"
	AccessActive   AccessState = "active"
	AccessPastDue  AccessState = "past_due"
	AccessCanceled AccessState = "canceled"
	AccessExpired  AccessState = "expired"
)

func StateAt(s *Subscription, now time.Time) AccessState {
	if s == nil {
		return AccessNone
	}
	if s.IsActiveAt(now) {
		return AccessActive
	}
	switch s.Status {
	case StatusPastDue, StatusUnpaid:
		return AccessPastDue
	case StatusCanceled, StatusIncompleteExpired:
		return AccessCanceled
	default:
		return AccessExpired
	}
}
