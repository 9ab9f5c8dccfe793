package models

import "time"

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusPaused     = "paused"
)

// Subscription mirrors a payment-processor subscription. The processor's
// subscription id is the primary key, so replaying the same event converges
// to the same row.
type Subscription struct {
	ID                 string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	PlanID             *string    `gorm:"type:varchar(64);default:null" json:"plan_id,omitempty"`
	StripeCustomerID   string     `gorm:"type:varchar(64);not null;index" json:"stripe_customer_id"`
	StripePriceID      string     `gorm:"type:varchar(64);default:''" json:"stripe_price_id"`
	Status             string     `gorm:"type:varchar(32);not null;default:'incomplete';index" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
