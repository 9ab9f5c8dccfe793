package models

import "time"

// ReferralCode is a user's public invite token. One active code per user.
type ReferralCode struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_referral_codes_user,unique" json:"user_id"`
	Code      string    `gorm:"type:varchar(16);not null;index:ux_referral_codes_code,unique" json:"code"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
