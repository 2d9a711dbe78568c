package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutStatusCompleted = "completed"
	PayoutStatusFailed    = "failed"

	// PayoutStatusUnrecorded marks a transfer the provider confirmed whose
	// commissions could not be marked paid. The next payout run settles it.
	PayoutStatusUnrecorded = "unrecorded"
)

// Payout groups the commissions settled by one confirmed transfer. Failed
// attempts are kept for the affiliate's history with a nil provider id.
type Payout struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	AffiliateID      uint            `gorm:"not null;index" json:"affiliate_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(3);not null;default:'usd'" json:"currency"`
	CommissionCount  int             `gorm:"not null;default:0" json:"commission_count"`
	ProviderPayoutID *string         `gorm:"type:varchar(191);uniqueIndex" json:"provider_payout_id,omitempty"`
	Status           string          `gorm:"type:varchar(20);not null;index" json:"status"`
	FailureReason    string          `gorm:"type:text" json:"failure_reason,omitempty"`
	CommissionIDs    string          `gorm:"type:text" json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}
