package users

import (
	"time"

	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/infra/stripe"
)

func BuildSubscriptionDTO(sub *subscriptions.Subscription, now time.Time) *SubscriptionDTO {
	if sub == nil {
		return nil
	}
	return &SubscriptionDTO{
		Active:               sub.IsActiveAt(now),
		Status:               stripe.NormalizeStatus(sub.Status),
		PriceID:              sub.PriceID,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		StripeSubscriptionID: sub.StripeSubscriptionID,
	}
}

// BuildAccessDTO folds the subscription into what the frontend branches on.
// Charts and the watchlist are free; the chat assistant is the paid
// capability.
func BuildAccessDTO(sub *subscriptions.Subscription, now time.Time) AccessDTO {
	state := subscriptions.StateAt(sub, now)

	capabilities := []string{"charts", "watchlist"}
	if state == subscriptions.AccessActive {
		capabilities = append(capabilities, "chat")
	}

	return AccessDTO{
		State:        string(state),
		Capabilities: capabilities,
	}
}
