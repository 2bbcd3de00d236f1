package billing

import "time"

// WebhookEvent is the audit trail of recognized provider events. One row per
// event id, recording whether projection succeeded. Idempotency itself is
// enforced by the subscriptions upsert, not by this table.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index"`
	ProcessedAt     *time.Time `gorm:"default:null"`
	ProcessingError string     `gorm:"type:text"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime"`
}
