package repository

import (
	"github.com/ManuelReschke/PropFox/app/models"
	"gorm.io/gorm"
)

// affiliateRepository implements the AffiliateRepository interface
type affiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository creates a new affiliate repository instance
func NewAffiliateRepository(db *gorm.DB) AffiliateRepository {
	return &affiliateRepository{db: db}
}

// List returns affiliate profiles, oldest application first. An empty status
// lists every profile.
func (r *affiliateRepository) List(status string, offset, limit int) ([]models.AffiliateProfile, error) {
	var profiles []models.AffiliateProfile
	err := r.scoped(status).Order("id ASC").Offset(offset).Limit(limit).Find(&profiles).Error
	return profiles, err
}

// Count returns the number of profiles in status (all when empty)
func (r *affiliateRepository) Count(status string) (int64, error) {
	var count int64
	err := r.scoped(status).Model(&models.AffiliateProfile{}).Count(&count).Error
	return count, err
}

// ListPayouts returns an affiliate's payout attempts, newest first.
func (r *affiliateRepository) ListPayouts(affiliateID uint, offset, limit int) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.Where("affiliate_id = ?", affiliateID).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&payouts).Error
	return payouts, err
}

func (r *affiliateRepository) scoped(status string) *gorm.DB {
	if status == "" {
		return r.db
	}
	return r.db.Where("status = ?", status)
}
