package users

import "time"

const (
	TokenTypeVerifyEmail   = "verify_email"
	TokenTypePasswordReset = "password_reset"
)

// VerificationToken backs both email verification and password reset links.
// One live token per user and purpose; issuing a new one replaces the old.
type VerificationToken struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"type:uuid;uniqueIndex:idx_verification_tokens_user_type"`
	User      User   `gorm:"constraint:OnDelete:CASCADE"`
	Token     string `gorm:"uniqueIndex"`
	Type      string `gorm:"uniqueIndex:idx_verification_tokens_user_type"`
	ExpiresAt time.Time
	CreatedAt time.Time
}
