package models

import "time"

const (
	CreditTxReferralBonus = "referral_bonus"
	CreditTxReferredBonus = "referred_bonus"
	CreditTxPurchase      = "purchase"
	CreditTxUsage         = "usage"
	CreditTxAdjustment    = "adjustment"
	CreditTxExpiry        = "expiry"
)

// CreditTransaction is an append-only ledger entry. Rows are immutable once
// written; ProviderTxID references the payment processor's balance
// transaction.
type CreditTransaction struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index" json:"user_id"`
	Amount       int       `gorm:"not null" json:"amount"`
	Type         string    `gorm:"type:varchar(32);not null;index" json:"type"`
	Description  string    `gorm:"type:varchar(255);not null" json:"description"`
	ReferralID   *uint     `gorm:"default:null;index" json:"referral_id,omitempty"`
	ProviderTxID string    `gorm:"type:varchar(191);default:''" json:"provider_tx_id"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
