package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const (
	AffiliateStatusPending   = "pending"
	AffiliateStatusApproved  = "approved"
	AffiliateStatusSuspended = "suspended"
)

// AffiliateProfile is the identity of a partner that refers users in exchange
// for recurring commission. PromoCode and ReferralLink stay empty until the
// application is approved.
type AffiliateProfile struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            uint            `gorm:"not null;uniqueIndex" json:"user_id"`
	Email             string          `gorm:"type:varchar(200);not null" json:"email" validate:"required,email,max=200"`
	Website           string          `gorm:"type:varchar(255);default:''" json:"website" validate:"omitempty,url,max=255"`
	PromoCode         *string         `gorm:"type:varchar(32);uniqueIndex" json:"promo_code,omitempty"`
	ReferralLink      *string         `gorm:"type:varchar(255);uniqueIndex" json:"referral_link,omitempty"`
	CommissionRate    decimal.Decimal `gorm:"type:decimal(5,4);not null" json:"commission_rate"`
	Status            string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending approved suspended"`
	TotalEarnings     decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"total_earnings"`
	PayoutDestination string          `gorm:"type:varchar(64);default:''" json:"-"`
	ClickCount        int64           `gorm:"not null;default:0" json:"click_count"`
	ApprovedAt        *time.Time      `gorm:"type:timestamp;default:null" json:"approved_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *AffiliateProfile) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// IsApproved reports whether the affiliate may receive attribution.
func (a *AffiliateProfile) IsApproved() bool {
	return a != nil && a.Status == AffiliateStatusApproved
}

// HasPayoutDestination reports whether a payout account is linked.
func (a *AffiliateProfile) HasPayoutDestination() bool {
	return a != nil && a.PayoutDestination != ""
}

// PromoCodeValue returns the promo code or an empty string.
func (a *AffiliateProfile) PromoCodeValue() string {
	if a == nil || a.PromoCode == nil {
		return ""
	}
	return *a.PromoCode
}

// ReferralLinkValue returns the referral link or an empty string.
func (a *AffiliateProfile) ReferralLinkValue() string {
	if a == nil || a.ReferralLink == nil {
		return ""
	}
	return *a.ReferralLink
}
