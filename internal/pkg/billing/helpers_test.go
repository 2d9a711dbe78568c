package billing

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_propfox"

type earnedRecorder struct {
	affiliate.NopNotifier
	mu     sync.Mutex
	earned []uint
}

func (n *earnedRecorder) CommissionEarned(_ context.Context, _ *models.AffiliateProfile, c *models.Commission) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.earned = append(n.earned, c.ID)
}

func (n *earnedRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.earned)
}

type harness struct {
	db       *gorm.DB
	ledger   *affiliate.Service
	notifier *earnedRecorder
	rec      *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewTestDB(t)
	notifier := &earnedRecorder{}
	cfg := affiliate.DefaultConfig()
	cfg.PublicDomain = "app.propfox.test"
	ledger := affiliate.NewService(db, cfg, nil, notifier)

	billingCfg := &Config{
		WebhookSecret:    testWebhookSecret,
		WebhookTolerance: 5 * time.Minute,
		HandlerTimeout:   10 * time.Second,
	}
	return &harness{
		db:       db,
		ledger:   ledger,
		notifier: notifier,
		rec:      NewReconciler(db, billingCfg, ledger),
	}
}

func (h *harness) deliver(t *testing.T, payload []byte) (*WebhookResult, error) {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return h.rec.ProcessWebhook(context.Background(), signed.Payload, signed.Header)
}

// seedReferral creates an approved affiliate and attributes userID to it.
func (h *harness) seedReferral(t *testing.T, affiliateUserID, userID uint, code string) *models.AffiliateProfile {
	t.Helper()
	p := h.seedAffiliate(t, affiliateUserID, code)
	_, err := h.ledger.TrackReferral(context.Background(), code, userID)
	require.NoError(t, err)
	return p
}

// seedAffiliate creates an approved affiliate owning code.
func (h *harness) seedAffiliate(t *testing.T, affiliateUserID uint, code string) *models.AffiliateProfile {
	t.Helper()
	link := "https://app.propfox.test/signup?ref=" + code
	now := time.Now().UTC()
	p := &models.AffiliateProfile{
		UserID:         affiliateUserID,
		Email:          "partner@example.com",
		PromoCode:      &code,
		ReferralLink:   &link,
		CommissionRate: decimal.RequireFromString("0.25"),
		Status:         models.AffiliateStatusApproved,
		TotalEarnings:  decimal.Zero,
		ApprovedAt:     &now,
	}
	require.NoError(t, h.db.Create(p).Error)
	return p
}

func (h *harness) seedPlanMapping(t *testing.T, price, plan string) {
	t.Helper()
	require.NoError(t, h.db.Create(&models.BillingPlanMapping{
		Provider:        models.BillingProviderStripe,
		ProviderPlanRef: price,
		InternalPlan:    plan,
		BillingInterval: models.BillingIntervalMonth,
		IsActive:        true,
	}).Error)
}

func (h *harness) userPlan(t *testing.T, userID uint) string {
	t.Helper()
	us, err := models.GetOrCreateUserSettings(h.db, userID)
	require.NoError(t, err)
	return us.Plan
}

func (h *harness) count(t *testing.T, model interface{}, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Where(where, args...).Count(&n).Error)
	return n
}

func eventPayload(t *testing.T, id string, typ string, created time.Time, object map[string]interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     created.Unix(),
		"api_version": "2025-07-30.basil",
		"livemode":    false,
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return raw
}

func userMetadata(userID uint) map[string]string {
	if userID == 0 {
		return map[string]string{}
	}
	return map[string]string{"userId": strconv.FormatUint(uint64(userID), 10)}
}

func subscriptionObject(subID string, userID uint, status, price string, periodStart time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":                   subID,
		"object":               "subscription",
		"customer":             "cus_1",
		"status":               status,
		"cancel_at_period_end": false,
		"metadata":             userMetadata(userID),
		"items": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"current_period_start": periodStart.Unix(),
					"current_period_end":   periodStart.AddDate(0, 1, 0).Unix(),
					"price": map[string]interface{}{
						"id":        price,
						"recurring": map[string]interface{}{"interval": "month"},
					},
				},
			},
		},
	}
}

func invoiceObject(invoiceID, subID string, userID uint, amountPaid int64, periodStart time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":             invoiceID,
		"object":         "invoice",
		"customer":       "cus_1",
		"currency":       "usd",
		"status":         "paid",
		"billing_reason": "subscription_cycle",
		"amount_paid":    amountPaid,
		"amount_due":     amountPaid,
		"period_start":   periodStart.Unix(),
		"period_end":     periodStart.Unix(),
		"parent": map[string]interface{}{
			"subscription_details": map[string]interface{}{
				"subscription": subID,
				"metadata":     userMetadata(userID),
			},
		},
		"lines": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{
					"period": map[string]interface{}{
						"start": periodStart.Unix(),
						"end":   periodStart.AddDate(0, 1, 0).Unix(),
					},
				},
			},
		},
	}
}

func (h *harness) referralStatus(t *testing.T, userID uint) string {
	t.Helper()
	var ref models.Referral
	require.NoError(t, h.db.Where("user_id = ?", userID).First(&ref).Error)
	return ref.Status
}

// assertDecimal compares at four places; SQLite keeps decimals as REAL.
func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got.Round(4)), "want %s, got %s", want, got)
}
