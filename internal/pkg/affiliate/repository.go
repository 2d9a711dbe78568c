package affiliate

import (
	"errors"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// store holds the ledger queries. It is bound either to the pool or to a
// transaction, so the same code runs inside reconciler and payout transactions.
type store struct {
	db *gorm.DB
}

func newStore(db *gorm.DB) *store {
	return &store{db: db}
}

func (r *store) profileByID(id uint) (*models.AffiliateProfile, error) {
	var p models.AffiliateProfile
	if err := r.db.First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAffiliateNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *store) lockProfile(id uint) (*models.AffiliateProfile, error) {
	var p models.AffiliateProfile
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAffiliateNotFound
	}
	return &p, err
}

func (r *store) profileByUserID(userID uint) (*models.AffiliateProfile, error) {
	var p models.AffiliateProfile
	if err := r.db.Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAffiliateNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *store) approvedProfileByPromoCode(code string) (*models.AffiliateProfile, error) {
	var p models.AffiliateProfile
	err := r.db.Where("promo_code = ? AND status = ?", code, models.AffiliateStatusApproved).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *store) promoCodeTaken(code string) (bool, error) {
	var count int64
	err := r.db.Model(&models.AffiliateProfile{}).Where("promo_code = ?", code).Count(&count).Error
	return count > 0, err
}

// createProfileIfAbsent inserts p unless the user already has a profile.
func (r *store) createProfileIfAbsent(p *models.AffiliateProfile) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *store) updateProfile(id uint, updates map[string]interface{}) error {
	return r.db.Model(&models.AffiliateProfile{}).Where("id = ?", id).Updates(updates).Error
}

func (r *store) incrementEarnings(affiliateID uint, amount decimal.Decimal) error {
	return r.db.Model(&models.AffiliateProfile{}).
		Where("id = ?", affiliateID).
		UpdateColumn("total_earnings", gorm.Expr("total_earnings + ?", amount)).Error
}

func (r *store) referralByUserID(userID uint) (*models.Referral, error) {
	var ref models.Referral
	if err := r.db.Where("user_id = ?", userID).First(&ref).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ref, nil
}

// hasPurchased reports whether the user has a successful payment or a
// subscription that got past checkout.
func (r *store) hasPurchased(userID uint) (bool, error) {
	var n int64
	err := r.db.Model(&models.BillingPayment{}).
		Where("user_id = ? AND status = ?", userID, models.PaymentStatusSucceeded).
		Count(&n).Error
	if err != nil || n > 0 {
		return n > 0, err
	}
	err = r.db.Model(&models.BillingSubscription{}).
		Where("user_id = ? AND status NOT IN ?", userID, []string{models.BillingStatusIncomplete, "incomplete_expired", models.BillingStatusExpired}).
		Count(&n).Error
	return n > 0, err
}

// createReferralIfAbsent relies on the unique user_id index: the first
// attribution wins and later inserts are silently dropped.
func (r *store) createReferralIfAbsent(ref *models.Referral) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(ref)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// markConverted flips pending→converted; false means another caller got there first.
func (r *store) markConverted(referralID uint, at time.Time) (bool, error) {
	res := r.db.Model(&models.Referral{}).
		Where("id = ? AND status = ?", referralID, models.ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":       models.ReferralStatusConverted,
			"converted_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *store) conversionCommission(referralID uint) (*models.Commission, error) {
	var c models.Commission
	err := r.db.Where("referral_id = ? AND is_recurring = ?", referralID, false).Order("id ASC").First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// insertCommission inserts c unless its idempotency key or its
// (subscription, billing period) pair already exists.
func (r *store) insertCommission(c *models.Commission) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *store) existingCommission(c *models.Commission) (*models.Commission, error) {
	var stored models.Commission
	err := r.db.Where("idempotency_key = ?", c.IdempotencyKey).
		Or("subscription_id = ? AND billing_period_start = ?", c.SubscriptionID, c.BillingPeriodStart).
		First(&stored).Error
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

type pendingRow struct {
	ID          uint
	AffiliateID uint
	Amount      decimal.Decimal
}

func (r *store) pendingCommissionRows(affiliateID uint) ([]pendingRow, error) {
	var rows []pendingRow
	q := r.db.Model(&models.Commission{}).
		Select("id, affiliate_id, amount").
		Where("status = ?", models.CommissionStatusPending)
	if affiliateID != 0 {
		q = q.Where("affiliate_id = ?", affiliateID)
	}
	err := q.Order("affiliate_id ASC, id ASC").Scan(&rows).Error
	return rows, err
}

func (r *store) lockPendingCommissions(affiliateID uint, ids []uint) ([]models.Commission, error) {
	var comms []models.Commission
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ? AND affiliate_id = ? AND status = ?", ids, affiliateID, models.CommissionStatusPending).
		Order("id ASC").
		Find(&comms).Error
	return comms, err
}

func (r *store) markCommissionsPaid(ids []uint, payoutID uint, at time.Time) (int64, error) {
	res := r.db.Model(&models.Commission{}).
		Where("id IN ? AND status = ?", ids, models.CommissionStatusPending).
		Updates(map[string]interface{}{
			"status":    models.CommissionStatusPaid,
			"payout_id": payoutID,
			"paid_at":   at,
		})
	return res.RowsAffected, res.Error
}

func (r *store) sumCommissions(affiliateID uint, status string, since *time.Time) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	q := r.db.Model(&models.Commission{}).Select("SUM(amount)").Where("affiliate_id = ?", affiliateID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	if err := q.Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

func (r *store) countReferrals(affiliateID uint, status string) (int64, error) {
	var count int64
	q := r.db.Model(&models.Referral{}).Where("affiliate_id = ?", affiliateID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	err := q.Count(&count).Error
	return count, err
}

func (r *store) pageCommissions(affiliateID uint, offset, limit int) ([]models.Commission, int64, error) {
	var total int64
	if err := r.db.Model(&models.Commission{}).Where("affiliate_id = ?", affiliateID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []models.Commission
	err := r.db.Where("affiliate_id = ?", affiliateID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&items).Error
	return items, total, err
}
