package stripewebhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"finchart-app/internal/domain/billing"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/domain/users"
	"finchart-app/pkg/logging"

	"github.com/stripe/stripe-go/v75"
	checkoutsession "github.com/stripe/stripe-go/v75/checkout/session"
	"github.com/stripe/stripe-go/v75/subscription"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSkipEvent marks events that can never be applied, no matter how often
// the provider redelivers them: no resolvable user, no local row to patch,
// malformed payload. They are audited and acknowledged instead of retried.
var ErrSkipEvent = errors.New("event skipped")

// Outcome describes what a projection changed, for logging and the synced
// topic.
type Outcome struct {
	UserID               string
	StripeSubscriptionID string
	Status               string
}

// Projector maps verified provider events onto the local store: the
// subscriptions row (atomic upsert keyed on user_id), the payment history,
// and the customer binding on the user row.
type Projector struct {
	db   *gorm.DB
	subs *subscriptions.Store

	// Checkout completion needs follow-up API reads; overridable in tests.
	fetchSession      func(id string) (*stripe.CheckoutSession, error)
	fetchSubscription func(id string) (*stripe.Subscription, error)
}

func NewProjector(db *gorm.DB, subs *subscriptions.Store) *Projector {
	return &Projector{
		db:   db,
		subs: subs,
		fetchSession: func(id string) (*stripe.CheckoutSession, error) {
			return checkoutsession.Get(id, &stripe.CheckoutSessionParams{
				Params: stripe.Params{
					Expand: []*string{
						stripe.String("subscription"),
						stripe.String("customer"),
					},
				},
			})
		},
		fetchSubscription: func(id string) (*stripe.Subscription, error) {
			return subscription.Get(id, nil)
		},
	}
}

// Apply projects one recognized event. Every event carries the full object,
// so applying is idempotent by final state and needs no ordering guarantees
// from the provider.
func (p *Projector) Apply(ctx context.Context, event stripe.Event) (*Outcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: malformed checkout session payload: %v", ErrSkipEvent, err)
		}
		return p.applyCheckoutCompleted(ctx, &session)

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: malformed subscription payload: %v", ErrSkipEvent, err)
		}
		return p.applySubscription(ctx, &sub)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: malformed subscription payload: %v", ErrSkipEvent, err)
		}
		return p.applySubscriptionDeleted(ctx, &sub)

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: malformed invoice payload: %v", ErrSkipEvent, err)
		}
		return p.applyInvoicePaymentFailed(ctx, &inv)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: malformed invoice payload: %v", ErrSkipEvent, err)
		}
		return p.applyInvoicePaid(ctx, &inv)

	default:
		return nil, fmt.Errorf("%w: unhandled event type %s", ErrSkipEvent, event.Type)
	}
}

func (p *Projector) applySubscription(ctx context.Context, sub *stripe.Subscription) (*Outcome, error) {
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription event missing id", ErrSkipEvent)
	}

	userID, err := p.resolveUserID(ctx, sub)
	if err != nil {
		return nil, err
	}

	rec := recordFromSubscription(userID, sub)
	if err := p.subs.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("upsert subscription for user %s: %w", userID, err)
	}

	return &Outcome{UserID: userID, StripeSubscriptionID: sub.ID, Status: rec.Status}, nil
}

func (p *Projector) applySubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) (*Outcome, error) {
	if sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription event missing id", ErrSkipEvent)
	}

	userID, err := p.resolveUserID(ctx, sub)
	if err != nil {
		return nil, err
	}

	canceledAt := time.Now().UTC()
	if t := unixTime(sub.CanceledAt); t != nil {
		canceledAt = *t
	}

	err = p.subs.MarkCanceled(ctx, userID, canceledAt)
	if errors.Is(err, subscriptions.ErrNotFound) {
		return nil, fmt.Errorf("%w: no local row for deleted subscription %s", ErrSkipEvent, sub.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("mark canceled for user %s: %w", userID, err)
	}

	return &Outcome{UserID: userID, StripeSubscriptionID: sub.ID, Status: subscriptions.StatusCanceled}, nil
}

func (p *Projector) applyInvoicePaymentFailed(ctx context.Context, inv *stripe.Invoice) (*Outcome, error) {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil, fmt.Errorf("%w: invoice %s not tied to a subscription", ErrSkipEvent, inv.ID)
	}
	subID := inv.Subscription.ID

	row, err := p.subs.GetByStripeSubscriptionID(ctx, subID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		return nil, fmt.Errorf("%w: no local row for subscription %s", ErrSkipEvent, subID)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", subID, err)
	}

	if err := p.subs.MarkStatus(ctx, subID, subscriptions.StatusPastDue); err != nil && !errors.Is(err, subscriptions.ErrNotFound) {
		return nil, fmt.Errorf("mark past_due for subscription %s: %w", subID, err)
	}

	p.recordPayment(ctx, inv, row.UserID, "failed", inv.AmountDue)

	return &Outcome{UserID: row.UserID, StripeSubscriptionID: subID, Status: subscriptions.StatusPastDue}, nil
}

func (p *Projector) applyInvoicePaid(ctx context.Context, inv *stripe.Invoice) (*Outcome, error) {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil, fmt.Errorf("%w: invoice %s not tied to a subscription", ErrSkipEvent, inv.ID)
	}
	subID := inv.Subscription.ID

	row, err := p.subs.GetByStripeSubscriptionID(ctx, subID)
	if errors.Is(err, subscriptions.ErrNotFound) {
		return nil, fmt.Errorf("%w: no local row for subscription %s", ErrSkipEvent, subID)
	}
	if err != nil {
		return nil, fmt.Errorf("load subscription %s: %w", subID, err)
	}

	p.recordPayment(ctx, inv, row.UserID, "paid", inv.AmountPaid)

	return &Outcome{UserID: row.UserID, StripeSubscriptionID: subID, Status: row.Status}, nil
}

func (p *Projector) applyCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (*Outcome, error) {
	if session.ID == "" {
		return nil, fmt.Errorf("%w: checkout session event missing id", ErrSkipEvent)
	}

	full, err := p.fetchSession(session.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch expanded checkout session: %w", err)
	}
	if full.Subscription == nil || full.Subscription.ID == "" {
		return nil, fmt.Errorf("%w: checkout session %s has no subscription", ErrSkipEvent, session.ID)
	}

	sub, err := p.fetchSubscription(full.Subscription.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", full.Subscription.ID, err)
	}

	// Checkout carries the user id in subscription metadata (written by
	// create-checkout-session), with client_reference_id as the fallback.
	userID := userIDFromMetadata(sub.Metadata)
	if userID == "" {
		userID = full.ClientReferenceID
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: checkout session %s carries no user id", ErrSkipEvent, session.ID)
	}

	if full.Customer != nil && full.Customer.ID != "" {
		p.bindCustomer(ctx, userID, full.Customer.ID)
	}

	rec := recordFromSubscription(userID, sub)
	if rec.StripeCustomerID == "" && full.Customer != nil {
		rec.StripeCustomerID = full.Customer.ID
	}
	if err := p.subs.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("upsert subscription for user %s: %w", userID, err)
	}

	return &Outcome{UserID: userID, StripeSubscriptionID: sub.ID, Status: rec.Status}, nil
}

// resolveUserID finds the local user a subscription event belongs to. The
// provider's customer id is never treated as a user id; it only joins
// against bindings this app wrote itself. Events that resolve nowhere are
// skipped, since redelivery cannot supply the missing identity.
func (p *Projector) resolveUserID(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if id := userIDFromMetadata(sub.Metadata); id != "" {
		return id, nil
	}

	if existing, err := p.subs.GetByStripeSubscriptionID(ctx, sub.ID); err == nil {
		return existing.UserID, nil
	}

	if sub.Customer != nil && sub.Customer.ID != "" {
		var user users.User
		err := p.db.WithContext(ctx).Where("stripe_customer_id = ?", sub.Customer.ID).First(&user).Error
		if err == nil {
			return user.ID, nil
		}
	}

	return "", fmt.Errorf("%w: no resolvable user for subscription %s", ErrSkipEvent, sub.ID)
}

func userIDFromMetadata(md map[string]string) string {
	if md == nil {
		return ""
	}
	if id := md["user_id"]; id != "" {
		return id
	}
	return md["userId"]
}

// recordFromSubscription maps the provider object to a local row. Period
// bounds and cancellation markers arrive as epoch seconds; zero means unset.
func recordFromSubscription(userID string, sub *stripe.Subscription) *subscriptions.Subscription {
	rec := &subscriptions.Subscription{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		Status:               string(sub.Status),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CurrentPeriodStart:   unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
		CancelAt:             unixTime(sub.CancelAt),
		CanceledAt:           unixTime(sub.CanceledAt),
	}
	if sub.Customer != nil {
		rec.StripeCustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		rec.PriceID = sub.Items.Data[0].Price.ID
	}
	return rec
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// bindCustomer stores the provider customer id on the user row so later
// metadata-less events can still be attributed.
func (p *Projector) bindCustomer(ctx context.Context, userID, customerID string) {
	err := p.db.WithContext(ctx).Model(&users.User{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", customerID).Error
	if err != nil {
		logging.Errorf("bind stripe customer %s to user %s: %v", customerID, userID, err)
	}
}

// recordPayment appends to the payment history. Best effort: a redelivered
// invoice hits the unique index and is dropped.
func (p *Projector) recordPayment(ctx context.Context, inv *stripe.Invoice, userID, status string, amountCents int64) {
	if inv.ID == "" || userID == "" {
		return
	}

	pay := billing.Payment{
		UserID:          userID,
		StripeInvoiceID: inv.ID,
		AmountUSD:       float64(amountCents) / 100,
		Currency:        string(inv.Currency),
		Status:          status,
	}
	if inv.Subscription != nil && inv.Subscription.ID != "" {
		pay.StripeSubscriptionID = &inv.Subscription.ID
	}
	if inv.HostedInvoiceURL != "" {
		pay.ReceiptURL = &inv.HostedInvoiceURL
	}

	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&pay).Error
	if err != nil {
		logging.Errorf("record payment for invoice %s: %v", inv.ID, err)
	}
}

// RecordOutcome writes the audit row for a recognized event. A redelivery
// overwrites the previous attempt's outcome.
func (p *Projector) RecordOutcome(ctx context.Context, event stripe.Event, procErr error) {
	row := billing.WebhookEvent{
		ProviderEventID: event.ID,
		EventType:       event.Type,
	}
	if procErr != nil {
		row.ProcessingError = procErr.Error()
	} else {
		now := time.Now()
		row.ProcessedAt = &now
	}

	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"processed_at", "processing_error", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		logging.Errorf("record webhook event %s: %v", event.ID, err)
	}
}
