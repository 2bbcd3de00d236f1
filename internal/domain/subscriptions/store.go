package subscriptions

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("subscription not found")

// Store persists subscription rows. Every write is a single statement, so
// concurrent webhook deliveries for the same user cannot interleave a
// read-modify-write.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts the row for rec.UserID or overwrites the existing one,
// atomically, keyed on user_id. Reapplying the same provider state is a
// no-op on the final row.
func (s *Store) Upsert(ctx context.Context, rec *Subscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_customer_id",
			"stripe_subscription_id",
			"status",
			"price_id",
			"current_period_start",
			"current_period_end",
			"cancel_at_period_end",
			"cancel_at",
			"canceled_at",
			"updated_at",
		}),
	}).Create(rec).Error
}

// MarkCanceled applies the deletion-event patch: status forced to canceled
// and canceled_at stamped. All other fields keep their last-known values and
// the row itself stays in place.
func (s *Store) MarkCanceled(ctx context.Context, userID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"status":      StatusCanceled,
			"canceled_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkStatus patches only the status column, keyed by the provider's
// subscription id. Used for invoice-driven transitions such as past_due.
func (s *Store) MarkStatus(ctx context.Context, stripeSubscriptionID, status string) error {
	res := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetByUserID(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeSubscriptionID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).Where("stripe_customer_id = ?", stripeCustomerID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Store) List(ctx context.Context) ([]Subscription, error) {
	var subs []Subscription
	if err := s.db.WithContext(ctx).Order("updated_at desc").Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}
