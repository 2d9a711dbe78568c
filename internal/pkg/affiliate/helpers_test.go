package affiliate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvider struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    []PayoutRequest
}

func (f *fakeProvider) SubmitPayout(ctx context.Context, req PayoutRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		if f.err != nil {
			return "", f.err
		}
		return "", errors.New("provider unavailable")
	}
	return fmt.Sprintf("tr_%d", len(f.calls)), nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordingNotifier struct {
	mu        sync.Mutex
	earned    []uint
	completed []uint
	failed    []uint
}

func (n *recordingNotifier) CommissionEarned(_ context.Context, _ *models.AffiliateProfile, c *models.Commission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.earned = append(n.earned, c.ID)
}

func (n *recordingNotifier) PayoutCompleted(_ context.Context, _ *models.AffiliateProfile, p *models.Payout, _ []models.Commission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, p.ID)
}

func (n *recordingNotifier) PayoutFailed(_ context.Context, _ *models.AffiliateProfile, p *models.Payout) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, p.AffiliateID)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PublicDomain = "app.propfox.test"
	cfg.PayoutRetryBackoff = time.Millisecond
	return cfg
}

func newTestService(t *testing.T) (*Service, *gorm.DB, *fakeProvider, *recordingNotifier) {
	t.Helper()
	db := testutil.NewTestDB(t)
	provider := &fakeProvider{}
	notifier := &recordingNotifier{}
	return NewService(db, testConfig(), provider, notifier), db, provider, notifier
}

func seedAffiliate(t *testing.T, db *gorm.DB, svc *Service, userID uint, code string) *models.AffiliateProfile {
	t.Helper()
	link := svc.cfg.ReferralLink(code)
	now := time.Now().UTC()
	p := &models.AffiliateProfile{
		UserID:            userID,
		Email:             fmt.Sprintf("affiliate%d@example.com", userID),
		PromoCode:         &code,
		ReferralLink:      &link,
		CommissionRate:    decimal.RequireFromString("0.25"),
		Status:            models.AffiliateStatusApproved,
		TotalEarnings:     decimal.Zero,
		PayoutDestination: fmt.Sprintf("acct_%d", userID),
		ApprovedAt:        &now,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func seedPendingCommission(t *testing.T, db *gorm.DB, affiliateID uint, key, amount string) *models.Commission {
	t.Helper()
	amt := decimal.RequireFromString(amount)
	c := &models.Commission{
		AffiliateID:        affiliateID,
		ReferralID:         1,
		SubscriptionID:     "sub_" + key,
		BillingPeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IdempotencyKey:     key,
		BaseAmount:         amt.Mul(decimal.NewFromInt(4)),
		Amount:             amt,
		Rate:               decimal.RequireFromString("0.25"),
		Currency:           "usd",
		Status:             models.CommissionStatusPending,
	}
	require.NoError(t, db.Create(c).Error)
	require.NoError(t, db.Model(&models.AffiliateProfile{}).Where("id = ?", affiliateID).
		UpdateColumn("total_earnings", gorm.Expr("total_earnings + ?", amt)).Error)
	return c
}

func billingEvent(userID uint, sub, invoice, amount string, period time.Time) CommissionInput {
	return CommissionInput{
		UserID:         userID,
		SubscriptionID: sub,
		IdempotencyKey: invoice,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "usd",
		PeriodStart:    period,
	}
}

func commissionCount(t *testing.T, db *gorm.DB, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.Commission{}).Where(where, args...).Count(&n).Error)
	return n
}

func reloadProfile(t *testing.T, db *gorm.DB, id uint) *models.AffiliateProfile {
	t.Helper()
	var p models.AffiliateProfile
	require.NoError(t, db.First(&p, id).Error)
	return &p
}

// assertDecimal compares at four places; SQLite keeps decimals as REAL.
func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got.Round(4)), "want %s, got %s", want, got)
}

// sumCommissionsInGo avoids depending on SQL SUM precision in assertions.
func sumCommissionsInGo(t *testing.T, db *gorm.DB, affiliateID uint) decimal.Decimal {
	t.Helper()
	var comms []models.Commission
	require.NoError(t, db.Where("affiliate_id = ?", affiliateID).Find(&comms).Error)
	total := decimal.Zero
	for _, c := range comms {
		total = total.Add(c.Amount)
	}
	return total
}
