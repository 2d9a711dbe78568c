package affiliate

import (
	"context"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/shopspring/decimal"
)

const monthlyWindow = 30 * 24 * time.Hour

// AffiliateStats is the dashboard rollup for one affiliate. Everything except
// TotalEarnings is recomputed from commission and referral rows on each call.
type AffiliateStats struct {
	AffiliateID        uint            `json:"affiliate_id"`
	TotalEarnings      decimal.Decimal `json:"total_earnings"`
	PendingEarnings    decimal.Decimal `json:"pending_earnings"`
	PaidEarnings       decimal.Decimal `json:"paid_earnings"`
	MonthlyEarnings    decimal.Decimal `json:"monthly_earnings"`
	TotalReferrals     int64           `json:"total_referrals"`
	ConvertedReferrals int64           `json:"converted_referrals"`
	ConversionRate     float64         `json:"conversion_rate"`
	ReferralClicks     int64           `json:"referral_clicks"`
}

// GetStats computes an affiliate's earnings and referral rollup as of now.
func (s *Service) GetStats(ctx context.Context, affiliateID uint, now time.Time) (*AffiliateStats, error) {
	st := newStore(s.db.WithContext(ctx))
	profile, err := st.profileByID(affiliateID)
	if err != nil {
		return nil, err
	}

	places := MinorUnits(s.cfg.PayoutCurrency)
	stats := &AffiliateStats{
		AffiliateID:    affiliateID,
		TotalEarnings:  profile.TotalEarnings.Round(places),
		ReferralClicks: profile.ClickCount,
	}

	if stats.PendingEarnings, err = st.sumCommissions(affiliateID, models.CommissionStatusPending, nil); err != nil {
		return nil, err
	}
	if stats.PaidEarnings, err = st.sumCommissions(affiliateID, models.CommissionStatusPaid, nil); err != nil {
		return nil, err
	}
	since := now.Add(-monthlyWindow)
	if stats.MonthlyEarnings, err = st.sumCommissions(affiliateID, "", &since); err != nil {
		return nil, err
	}
	stats.PendingEarnings = stats.PendingEarnings.Round(places)
	stats.PaidEarnings = stats.PaidEarnings.Round(places)
	stats.MonthlyEarnings = stats.MonthlyEarnings.Round(places)

	if stats.TotalReferrals, err = st.countReferrals(affiliateID, ""); err != nil {
		return nil, err
	}
	if stats.ConvertedReferrals, err = st.countReferrals(affiliateID, models.ReferralStatusConverted); err != nil {
		return nil, err
	}
	if stats.TotalReferrals > 0 {
		rate := decimal.NewFromInt(stats.ConvertedReferrals).Div(decimal.NewFromInt(stats.TotalReferrals)).Round(4)
		stats.ConversionRate = rate.InexactFloat64()
	}
	return stats, nil
}
