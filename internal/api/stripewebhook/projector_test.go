package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"finchart-app/internal/domain/users"

	"github.com/stripe/stripe-go/v75"
)

func TestRecordFromSubscription(t *testing.T) {
	sub := &stripe.Subscription{
		ID:                 "sub_1",
		Status:             stripe.SubscriptionStatusActive,
		CancelAtPeriodEnd:  true,
		CurrentPeriodStart: 1700000000,
		CurrentPeriodEnd:   1702592000,
		CancelAt:           1702592000,
		Customer:           &stripe.Customer{ID: "cus_1"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_premium_monthly"}}},
		},
	}

	rec := recordFromSubscription("u1", sub)

	if rec.UserID != "u1" || rec.StripeSubscriptionID != "sub_1" || rec.StripeCustomerID != "cus_1" {
		t.Errorf("ids = %q/%q/%q", rec.UserID, rec.StripeSubscriptionID, rec.StripeCustomerID)
	}
	if rec.Status != "active" {
		t.Errorf("status = %q", rec.Status)
	}
	if rec.PriceID != "price_premium_monthly" {
		t.Errorf("price id = %q", rec.PriceID)
	}
	if !rec.CancelAtPeriodEnd {
		t.Error("cancel_at_period_end lost")
	}
	if rec.CurrentPeriodEnd == nil || rec.CurrentPeriodEnd.Unix() != 1702592000 {
		t.Errorf("period end = %v", rec.CurrentPeriodEnd)
	}
	if rec.CurrentPeriodEnd.Location() != time.UTC {
		t.Errorf("period end location = %v, want UTC", rec.CurrentPeriodEnd.Location())
	}
	if rec.CanceledAt != nil {
		t.Errorf("canceled_at = %v, want nil for epoch 0", rec.CanceledAt)
	}
}

func TestRecordFromSubscriptionToleratesSparseObjects(t *testing.T) {
	rec := recordFromSubscription("u1", &stripe.Subscription{ID: "sub_1", Status: stripe.SubscriptionStatusIncomplete})

	if rec.StripeCustomerID != "" || rec.PriceID != "" {
		t.Errorf("sparse object produced %q/%q", rec.StripeCustomerID, rec.PriceID)
	}
	if rec.CurrentPeriodStart != nil || rec.CurrentPeriodEnd != nil {
		t.Error("zero epochs should map to unset bounds")
	}
}

func TestUnixTime(t *testing.T) {
	if unixTime(0) != nil {
		t.Error("epoch 0 should be nil")
	}
	got := unixTime(1700000000)
	if got == nil || got.Unix() != 1700000000 || got.Location() != time.UTC {
		t.Errorf("unixTime(1700000000) = %v", got)
	}
}

func TestUserIDFromMetadata(t *testing.T) {
	cases := []struct {
		name string
		md   map[string]string
		want string
	}{
		{"nil map", nil, ""},
		{"snake case", map[string]string{"user_id": "u1"}, "u1"},
		{"camel case", map[string]string{"userId": "u2"}, "u2"},
		{"snake wins", map[string]string{"user_id": "u1", "userId": "u2"}, "u1"},
		{"unrelated keys", map[string]string{"plan": "premium"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := userIDFromMetadata(tc.md); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestApplyCheckoutCompleted(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if err := env.db.Create(&users.User{ID: "u3", Email: "u3@example.com"}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	p := NewProjector(env.db, env.store)
	p.fetchSession = func(id string) (*stripe.CheckoutSession, error) {
		if id != "cs_1" {
			t.Errorf("fetched session %q", id)
		}
		return &stripe.CheckoutSession{
			ID:                "cs_1",
			ClientReferenceID: "u3",
			Customer:          &stripe.Customer{ID: "cus_3"},
			Subscription:      &stripe.Subscription{ID: "sub_3"},
		}, nil
	}
	p.fetchSubscription = func(id string) (*stripe.Subscription, error) {
		if id != "sub_3" {
			t.Errorf("fetched subscription %q", id)
		}
		return &stripe.Subscription{
			ID:                 "sub_3",
			Status:             stripe.SubscriptionStatusActive,
			Customer:           &stripe.Customer{ID: "cus_3"},
			CurrentPeriodStart: 1700000000,
			CurrentPeriodEnd:   1702592000,
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_premium_monthly"}}},
			},
		}, nil
	}

	outcome, err := p.Apply(ctx, stripe.Event{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id": "cs_1"}`)},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if outcome.UserID != "u3" || outcome.Status != "active" {
		t.Errorf("outcome = %+v", outcome)
	}

	sub, err := env.store.GetByUserID(ctx, "u3")
	if err != nil {
		t.Fatalf("row not created: %v", err)
	}
	if sub.StripeSubscriptionID != "sub_3" || sub.PriceID != "price_premium_monthly" {
		t.Errorf("row = %+v", sub)
	}

	// Checkout must leave the customer binding on the user row for later
	// metadata-less events.
	var user users.User
	if err := env.db.First(&user, "id = ?", "u3").Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID != "cus_3" {
		t.Errorf("customer binding = %v", user.StripeCustomerID)
	}
}

func TestApplyCheckoutWithoutUserIsSkipped(t *testing.T) {
	env := newTestEnv(t, false)

	p := NewProjector(env.db, env.store)
	p.fetchSession = func(string) (*stripe.CheckoutSession, error) {
		return &stripe.CheckoutSession{
			ID:           "cs_1",
			Subscription: &stripe.Subscription{ID: "sub_9"},
		}, nil
	}
	p.fetchSubscription = func(string) (*stripe.Subscription, error) {
		return &stripe.Subscription{ID: "sub_9", Status: stripe.SubscriptionStatusActive}, nil
	}

	_, err := p.Apply(context.Background(), stripe.Event{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id": "cs_1"}`)},
	})
	if !errors.Is(err, ErrSkipEvent) {
		t.Fatalf("err = %v, want ErrSkipEvent", err)
	}
	if got := env.subscriptionCount(t); got != 0 {
		t.Errorf("skipped checkout created rows: %d", got)
	}
}

func TestApplyMalformedPayloadIsSkipped(t *testing.T) {
	env := newTestEnv(t, false)
	p := NewProjector(env.db, env.store)

	_, err := p.Apply(context.Background(), stripe.Event{
		ID:   "evt_1",
		Type: "customer.subscription.created",
		Data: &stripe.EventData{Raw: json.RawMessage(`{"id": 42}`)},
	})
	if !errors.Is(err, ErrSkipEvent) {
		t.Fatalf("err = %v, want ErrSkipEvent", err)
	}
}
