package models

import "time"

// Defaults used when the singleton config row is created on first access.
const (
	DefaultCreditsPerReferral = 15
	DefaultCreditsForReferred = 15
)

// ReferralConfig is the singleton configuration for the referral program.
// Exactly one row exists; it is created on first read if absent.
type ReferralConfig struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	CreditsPerReferral  int       `gorm:"not null;default:15" json:"credits_per_referral"`
	CreditsForReferred  int       `gorm:"not null;default:15" json:"credits_for_referred"`
	MaxReferralsPerUser *int      `gorm:"default:null" json:"max_referrals_per_user,omitempty"`
	IsActive            bool      `gorm:"default:true" json:"is_active"`
	RequireSubscription bool      `gorm:"default:false" json:"require_subscription"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultReferralConfig returns the documented defaults for self-healing
// creation of the singleton row.
func DefaultReferralConfig() *ReferralConfig {
	return &ReferralConfig{
		CreditsPerReferral:  DefaultCreditsPerReferral,
		CreditsForReferred:  DefaultCreditsForReferred,
		IsActive:            true,
		RequireSubscription: false,
	}
}
