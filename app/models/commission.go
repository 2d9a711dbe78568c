package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	CommissionStatusPending = "pending"
	CommissionStatusPaid    = "paid"
	CommissionStatusFailed  = "failed"
)

// Commission is one credit owed to an affiliate for one billing event on a
// referred user's subscription. Only Status, PaidAt and PayoutID change after
// creation.
type Commission struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	AffiliateID        uint            `gorm:"not null;index:idx_commissions_affiliate_status,priority:1" json:"affiliate_id"`
	ReferralID         uint            `gorm:"not null;index" json:"referral_id"`
	SubscriptionID     string          `gorm:"type:varchar(191);not null;index:ux_commissions_subscription_period,unique,priority:1" json:"subscription_id"`
	BillingPeriodStart time.Time       `gorm:"type:timestamp;not null;index:ux_commissions_subscription_period,unique,priority:2" json:"billing_period_start"`
	IdempotencyKey     string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"-"`
	BaseAmount         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"base_amount"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Rate               decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"rate"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	IsRecurring        bool            `gorm:"not null;default:false" json:"is_recurring"`
	Status             string          `gorm:"type:varchar(20);not null;default:'pending';index:idx_commissions_affiliate_status,priority:2" json:"status"`
	PayoutID           *uint           `gorm:"index" json:"payout_id,omitempty"`
	PaidAt             *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
