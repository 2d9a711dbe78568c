package models

import "time"

const (
	ReferralStatusPending   = "pending"
	ReferralStatusConverted = "converted"
)

// Referral binds a referred user to the affiliate that brought them in.
// UserID is unique: a user is attributed at most once, first attribution wins.
type Referral struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AffiliateID  uint       `gorm:"not null;index:idx_referrals_affiliate_status,priority:1" json:"affiliate_id"`
	UserID       uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	ReferralCode string     `gorm:"type:varchar(32);not null" json:"referral_code"`
	Status       string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_referrals_affiliate_status,priority:2" json:"status"`
	ConvertedAt  *time.Time `gorm:"type:timestamp;default:null" json:"converted_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsConverted reports whether the referral has been credited.
func (r *Referral) IsConverted() bool {
	return r != nil && r.Status == ReferralStatusConverted
}
