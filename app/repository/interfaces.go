package repository

import (
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	TouchAPIKeyUsage(settingsID uint, at time.Time) error
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// AffiliateRepository defines the admin-side listing of affiliate profiles
type AffiliateRepository interface {
	List(status string, offset, limit int) ([]models.AffiliateProfile, error)
	Count(status string) (int64, error)
	ListPayouts(affiliateID uint, offset, limit int) ([]models.Payout, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User      UserRepository
	Affiliate AffiliateRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:      NewUserRepository(db),
		Affiliate: NewAffiliateRepository(db),
	}
}
