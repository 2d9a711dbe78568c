package affiliate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/database"
	"github.com/ManuelReschke/PropFox/internal/pkg/promocode"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	promoCodeMaxAttempts = 5
	defaultPageSize      = 20
	maxPageSize          = 100
)

// Service owns the affiliate ledger: attribution, commissions, payouts and stats.
type Service struct {
	db       *gorm.DB
	cfg      Config
	provider PayoutProvider
	notifier Notifier
	now      func() time.Time
	validate *validator.Validate
}

// NewService wires the ledger to its database, payout provider and notifier.
// A nil notifier discards notifications.
func NewService(db *gorm.DB, cfg Config, provider PayoutProvider, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		db:       db,
		cfg:      cfg,
		provider: provider,
		notifier: notifier,
		now:      time.Now,
		validate: validator.New(),
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Config returns the policy the service was built with.
func (s *Service) Config() Config {
	return s.cfg
}

// ApplyInput is an affiliate program application.
type ApplyInput struct {
	UserID  uint   `json:"-" validate:"required"`
	Email   string `json:"email" validate:"required,email,max=200"`
	Website string `json:"website" validate:"omitempty,url,max=255"`
}

// Apply creates a pending affiliate profile for a user.
func (s *Service) Apply(ctx context.Context, in ApplyInput) (*models.AffiliateProfile, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	profile := &models.AffiliateProfile{
		UserID:         in.UserID,
		Email:          strings.TrimSpace(in.Email),
		Website:        strings.TrimSpace(in.Website),
		CommissionRate: s.cfg.DefaultRate,
		Status:         models.AffiliateStatusPending,
		TotalEarnings:  decimal.Zero,
	}
	created, err := newStore(s.db.WithContext(ctx)).createProfileIfAbsent(profile)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAffiliateExists
	}
	log.Infof("[Affiliate] Application received from user %d", in.UserID)
	return profile, nil
}

// Approve activates an application and assigns its promo code and referral
// link. Approving an already approved affiliate returns it unchanged.
func (s *Service) Approve(ctx context.Context, affiliateID uint) (*models.AffiliateProfile, error) {
	var approved *models.AffiliateProfile
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		st := newStore(tx)
		p, err := st.lockProfile(affiliateID)
		if err != nil {
			return err
		}
		if p.IsApproved() {
			approved = p
			return nil
		}

		updates := map[string]interface{}{"status": models.AffiliateStatusApproved}
		if p.PromoCode == nil {
			code, err := s.uniquePromoCode(st)
			if err != nil {
				return err
			}
			updates["promo_code"] = code
			updates["referral_link"] = s.cfg.ReferralLink(code)
		}
		if p.ApprovedAt == nil {
			updates["approved_at"] = s.now().UTC()
		}
		if err := st.updateProfile(p.ID, updates); err != nil {
			return err
		}
		approved, err = st.profileByID(p.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Affiliate] Affiliate %d approved with code %s", approved.ID, approved.PromoCodeValue())
	return approved, nil
}

// Suspend stops an affiliate from earning on new billing events.
func (s *Service) Suspend(ctx context.Context, affiliateID uint) error {
	st := newStore(s.db.WithContext(ctx))
	if _, err := st.profileByID(affiliateID); err != nil {
		return err
	}
	return st.updateProfile(affiliateID, map[string]interface{}{"status": models.AffiliateStatusSuspended})
}

// Reject deletes a pending application. Approved profiles carry ledger
// history and are never deleted.
func (s *Service) Reject(ctx context.Context, affiliateID uint) error {
	db := s.db.WithContext(ctx)
	res := db.Where("id = ? AND status = ?", affiliateID, models.AffiliateStatusPending).Delete(&models.AffiliateProfile{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := newStore(db).profileByID(affiliateID); err != nil {
			return err
		}
		return ErrNotPending
	}
	log.Infof("[Affiliate] Application %d rejected", affiliateID)
	return nil
}

// SetPayoutDestination links (or with an empty value unlinks) the account
// that receives payouts.
func (s *Service) SetPayoutDestination(ctx context.Context, affiliateID uint, destination string) error {
	destination = strings.TrimSpace(destination)
	if len(destination) > 64 {
		return fmt.Errorf("%w: payout destination too long", ErrInvalidInput)
	}
	st := newStore(s.db.WithContext(ctx))
	if _, err := st.profileByID(affiliateID); err != nil {
		return err
	}
	return st.updateProfile(affiliateID, map[string]interface{}{"payout_destination": destination})
}

// UpdateCommissionRate changes the rate for future commissions only; existing
// rows keep the rate they were created with.
func (s *Service) UpdateCommissionRate(ctx context.Context, affiliateID uint, rate decimal.Decimal) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	st := newStore(s.db.WithContext(ctx))
	if _, err := st.profileByID(affiliateID); err != nil {
		return err
	}
	return st.updateProfile(affiliateID, map[string]interface{}{"commission_rate": rate})
}

func (s *Service) GetProfile(ctx context.Context, affiliateID uint) (*models.AffiliateProfile, error) {
	return newStore(s.db.WithContext(ctx)).profileByID(affiliateID)
}

func (s *Service) GetProfileByUserID(ctx context.Context, userID uint) (*models.AffiliateProfile, error) {
	return newStore(s.db.WithContext(ctx)).profileByUserID(userID)
}

// CommissionPage is one page of an affiliate's commission history.
type CommissionPage struct {
	Items    []models.Commission `json:"items"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"page_size"`
	Total    int64               `json:"total"`
}

// ListCommissions returns commission history, newest first.
func (s *Service) ListCommissions(ctx context.Context, affiliateID uint, page, pageSize int) (*CommissionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	items, total, err := newStore(s.db.WithContext(ctx)).pageCommissions(affiliateID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	return &CommissionPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

func (s *Service) uniquePromoCode(st *store) (string, error) {
	for i := 0; i < promoCodeMaxAttempts; i++ {
		code, err := promocode.Generate()
		if err != nil {
			return "", err
		}
		taken, err := st.promoCodeTaken(code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not generate a unique promo code")
}
