package models

import "time"

const (
	ReferralStatusPending   = "pending"
	ReferralStatusCompleted = "completed"
	ReferralStatusExpired   = "expired"
	ReferralStatusCancelled = "cancelled"
)

// Referral records a referrer -> referred relationship and its lifecycle
// state. A user can be referred at most once (unique referred_id); credits
// are only awarded once the row transitions pending -> completed.
type Referral struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	ReferrerID             uint       `gorm:"not null;index" json:"referrer_id"`
	ReferredID             uint       `gorm:"not null;index:ux_referrals_referred,unique" json:"referred_id"`
	ReferralCodeID         uint       `gorm:"not null;index" json:"referral_code_id"`
	Status                 string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreditsAwardedReferrer int        `gorm:"not null;default:0" json:"credits_awarded_referrer"`
	CreditsAwardedReferred int        `gorm:"not null;default:0" json:"credits_awarded_referred"`
	CompletedAt            *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
