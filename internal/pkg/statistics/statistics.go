package statistics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/cache"
)

const (
	CacheKeyProgram = "statistics:affiliate:program"
	CacheExpiration = 5 * time.Minute
)

// ProgramStats is the program-wide rollup shown to admins. Amounts are
// summed across currencies in the ledger's storage precision.
type ProgramStats struct {
	Affiliates         map[string]int64 `json:"affiliates"`
	TotalReferrals     int64            `json:"total_referrals"`
	ConvertedReferrals int64            `json:"converted_referrals"`
	ReferralClicks     int64            `json:"referral_clicks"`
	PendingCommissions decimal.Decimal  `json:"pending_commissions"`
	PaidCommissions    decimal.Decimal  `json:"paid_commissions"`
	CompletedPayouts   int64            `json:"completed_payouts"`
	FailedPayouts      int64            `json:"failed_payouts"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Store is where computed stats are cached.
type Store interface {
	Get(key string) (string, error)
	Set(key string, value interface{}, expiration time.Duration) error
}

type redisStore struct{}

func (redisStore) Get(key string) (string, error) { return cache.Get(key) }

func (redisStore) Set(key string, value interface{}, expiration time.Duration) error {
	return cache.Set(key, value, expiration)
}

// RedisStore caches stats in the shared Redis client.
func RedisStore() Store {
	return redisStore{}
}

// Service computes program stats, serving them from the cache while fresh.
type Service struct {
	db    *gorm.DB
	store Store
	now   func() time.Time
}

// NewService creates the stats service. A nil store disables caching.
func NewService(db *gorm.DB, store Store) *Service {
	return &Service{db: db, store: store, now: time.Now}
}

// GetProgramStats returns the cached rollup or computes and caches a new one.
// Cache failures are logged and fall through to the database.
func (s *Service) GetProgramStats(ctx context.Context) (*ProgramStats, error) {
	if s.store != nil {
		if val, err := s.store.Get(CacheKeyProgram); err == nil {
			var stats ProgramStats
			if err := json.Unmarshal([]byte(val), &stats); err == nil {
				return &stats, nil
			}
			log.Warnf("[Cache] Discarding unreadable program stats")
		}
	}

	stats, err := s.compute(ctx)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		raw, err := json.Marshal(stats)
		if err == nil {
			err = s.store.Set(CacheKeyProgram, string(raw), CacheExpiration)
		}
		if err != nil {
			log.Warnf("[Cache] Error caching program stats: %v", err)
		}
	}
	return stats, nil
}

func (s *Service) compute(ctx context.Context) (*ProgramStats, error) {
	db := s.db.WithContext(ctx)
	stats := &ProgramStats{
		Affiliates:  map[string]int64{},
		GeneratedAt: s.now().UTC(),
	}

	var byStatus []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&models.AffiliateProfile{}).Select("status, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, err
	}
	for _, row := range byStatus {
		stats.Affiliates[row.Status] = row.Count
	}

	var clicks struct{ Total int64 }
	if err := db.Model(&models.AffiliateProfile{}).Select("COALESCE(SUM(click_count), 0) AS total").Scan(&clicks).Error; err != nil {
		return nil, err
	}
	stats.ReferralClicks = clicks.Total

	if err := db.Model(&models.Referral{}).Count(&stats.TotalReferrals).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Referral{}).Where("status = ?", models.ReferralStatusConverted).Count(&stats.ConvertedReferrals).Error; err != nil {
		return nil, err
	}

	var err error
	if stats.PendingCommissions, err = sumCommissions(db, models.CommissionStatusPending); err != nil {
		return nil, err
	}
	if stats.PaidCommissions, err = sumCommissions(db, models.CommissionStatusPaid); err != nil {
		return nil, err
	}

	if err := db.Model(&models.Payout{}).Where("status = ?", models.PayoutStatusCompleted).Count(&stats.CompletedPayouts).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Payout{}).Where("status = ?", models.PayoutStatusFailed).Count(&stats.FailedPayouts).Error; err != nil {
		return nil, err
	}
	return stats, nil
}

func sumCommissions(db *gorm.DB, status string) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	if err := db.Model(&models.Commission{}).Select("SUM(amount)").Where("status = ?", status).Row().Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}
