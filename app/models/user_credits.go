package models

import "time"

// UserCredits is the per-user aggregate credit balance. It is maintained
// incrementally via atomic increments, not recomputed from the transaction
// log.
type UserCredits struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index:ux_user_credits_user,unique" json:"user_id"`
	Balance     int       `gorm:"not null;default:0" json:"balance"`
	TotalEarned int       `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent  int       `gorm:"not null;default:0" json:"total_spent"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserCredits) TableName() string {
	return "user_credits"
}
