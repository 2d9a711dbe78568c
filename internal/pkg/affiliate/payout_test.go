package affiliate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func pendingCount(t *testing.T, db *gorm.DB, affiliateID uint) int64 {
	t.Helper()
	return commissionCount(t, db, "affiliate_id = ? AND status = ?", affiliateID, models.CommissionStatusPending)
}

func TestMonthlyPayoutThresholdGating(t *testing.T) {
	svc, db, provider, notifier := newTestService(t)
	below := seedAffiliate(t, db, svc, 1, "BELOW1")
	exact := seedAffiliate(t, db, svc, 2, "EXACT1")

	seedPendingCommission(t, db, below.ID, "b1", "5.00")
	seedPendingCommission(t, db, below.ID, "b2", "4.99")
	seedPendingCommission(t, db, exact.ID, "e1", "7.50")
	seedPendingCommission(t, db, exact.ID, "e2", "2.50")

	results, err := svc.ProcessMonthlyPayouts(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	assert.Equal(t, exact.ID, res.AffiliateID)
	assert.Equal(t, 2, res.CommissionCount)
	assertDecimal(t, "10.00", res.Amount)

	assert.Equal(t, int64(0), pendingCount(t, db, exact.ID))
	assert.Equal(t, int64(2), pendingCount(t, db, below.ID))

	var payouts []models.Payout
	require.NoError(t, db.Where("affiliate_id = ?", exact.ID).Find(&payouts).Error)
	require.Len(t, payouts, 1)
	assertDecimal(t, "10.00", payouts[0].Amount)
	assert.Equal(t, models.PayoutStatusCompleted, payouts[0].Status)
	require.NotNil(t, payouts[0].ProviderPayoutID)

	var paid []models.Commission
	require.NoError(t, db.Where("affiliate_id = ?", exact.ID).Find(&paid).Error)
	for _, c := range paid {
		assert.Equal(t, models.CommissionStatusPaid, c.Status)
		require.NotNil(t, c.PayoutID)
		assert.Equal(t, payouts[0].ID, *c.PayoutID)
		assert.NotNil(t, c.PaidAt)
	}

	require.Len(t, provider.calls, 1)
	assert.Equal(t, "acct_2", provider.calls[0].Destination)
	assert.Equal(t, "usd", provider.calls[0].Currency)
	assert.Equal(t, []uint{payouts[0].ID}, notifier.completed)
}

func TestPayoutFailureLeavesCommissionsPending(t *testing.T) {
	svc, db, provider, notifier := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	seedPendingCommission(t, db, a.ID, "c1", "12.25")
	seedPendingCommission(t, db, a.ID, "c2", "12.25")
	provider.failures = -1

	results, err := svc.ProcessMonthlyPayouts(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	res := results[0]
	assert.False(t, res.Success)

	var perr *PayoutProviderError
	require.True(t, errors.As(res.Error, &perr))
	assert.Equal(t, svc.cfg.PayoutMaxAttempts, perr.Attempts)
	assert.Equal(t, svc.cfg.PayoutMaxAttempts, provider.callCount())

	assert.Equal(t, int64(2), pendingCount(t, db, a.ID))
	assert.Equal(t, int64(0), commissionCount(t, db, "payout_id IS NOT NULL"))

	var failed []models.Payout
	require.NoError(t, db.Where("affiliate_id = ?", a.ID).Find(&failed).Error)
	require.Len(t, failed, 1)
	assert.Equal(t, models.PayoutStatusFailed, failed[0].Status)
	assert.Nil(t, failed[0].ProviderPayoutID)
	assert.NotEmpty(t, failed[0].FailureReason)
	assert.Equal(t, []uint{a.ID}, notifier.failed)

	// next cycle succeeds with the same commissions
	provider.failures = 0
	results, err = svc.ProcessMonthlyPayouts(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, int64(0), pendingCount(t, db, a.ID))
}

func TestPayoutRetriesWithStableIdempotencyKey(t *testing.T) {
	svc, db, provider, _ := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	seedPendingCommission(t, db, a.ID, "c1", "30.00")
	provider.failures = 2

	res := svc.RequestManualPayout(context.Background(), a.ID)
	require.NoError(t, res.Error)
	assert.True(t, res.Success)
	require.Len(t, provider.calls, 3)
	key := provider.calls[0].IdempotencyKey
	assert.NotEmpty(t, key)
	for _, call := range provider.calls {
		assert.Equal(t, key, call.IdempotencyKey)
	}
}

func TestPayoutRejectedIsNotRetried(t *testing.T) {
	svc, db, provider, _ := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	seedPendingCommission(t, db, a.ID, "c1", "30.00")
	provider.failures = -1
	provider.err = fmt.Errorf("%w: destination account closed", ErrPayoutRejected)

	res := svc.RequestManualPayout(context.Background(), a.ID)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, ErrPayoutRejected)
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, int64(1), pendingCount(t, db, a.ID))
}

func TestPayoutRequiresDestination(t *testing.T) {
	svc, db, provider, _ := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	require.NoError(t, svc.SetPayoutDestination(context.Background(), a.ID, ""))
	c := seedPendingCommission(t, db, a.ID, "c1", "30.00")

	res := svc.ProcessAffiliatePayout(context.Background(), a.ID, c.Amount, []uint{c.ID})
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, ErrNoPayoutDestination)
	assert.Equal(t, 0, provider.callCount())
	assert.Equal(t, int64(1), pendingCount(t, db, a.ID))
}

func TestManualPayoutBelowThreshold(t *testing.T) {
	svc, db, provider, _ := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	seedPendingCommission(t, db, a.ID, "c1", "9.99")

	res := svc.RequestManualPayout(context.Background(), a.ID)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, ErrBelowMinimumThreshold)
	assertDecimal(t, "9.99", res.Amount)
	assert.Equal(t, 0, provider.callCount())

	var payouts int64
	require.NoError(t, db.Model(&models.Payout{}).Count(&payouts).Error)
	assert.Equal(t, int64(0), payouts)
}

func TestPayoutSkipsCommissionsAlreadyPaid(t *testing.T) {
	svc, db, provider, _ := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	c1 := seedPendingCommission(t, db, a.ID, "c1", "20.00")
	c2 := seedPendingCommission(t, db, a.ID, "c2", "20.00")

	first := svc.ProcessAffiliatePayout(context.Background(), a.ID, c1.Amount, []uint{c1.ID})
	require.True(t, first.Success)

	// a stale batch that still lists c1 only pays what is still pending
	second := svc.ProcessAffiliatePayout(context.Background(), a.ID, c1.Amount.Add(c2.Amount), []uint{c1.ID, c2.ID})
	require.True(t, second.Success)
	assert.Equal(t, 1, second.CommissionCount)
	assertDecimal(t, "20.00", second.Amount)
	assert.Equal(t, 2, provider.callCount())
	assert.NotEqual(t, provider.calls[0].IdempotencyKey, provider.calls[1].IdempotencyKey)
}

func TestPayoutIdempotencyKeyIgnoresOrder(t *testing.T) {
	assert.Equal(t, payoutIdempotencyKey(1, []uint{3, 1, 2}), payoutIdempotencyKey(1, []uint{1, 2, 3}))
	assert.NotEqual(t, payoutIdempotencyKey(1, []uint{1, 2}), payoutIdempotencyKey(2, []uint{1, 2}))
}

// failCommissionUpdates makes every UPDATE on commissions fail while the
// returned flag is set.
func failCommissionUpdates(t *testing.T, db *gorm.DB) *atomic.Bool {
	t.Helper()
	failing := &atomic.Bool{}
	failing.Store(true)
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_commission_update", func(tx *gorm.DB) {
		if failing.Load() && tx.Statement.Table == "commissions" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))
	return failing
}

func TestConfirmedPayoutThatFailsToRecordIsSettledNotRepaid(t *testing.T) {
	svc, db, provider, notifier := newTestService(t)
	ctx := context.Background()
	a := seedAffiliate(t, db, svc, 1, "ABC123")
	c1 := seedPendingCommission(t, db, a.ID, "c1", "12.25")
	c2 := seedPendingCommission(t, db, a.ID, "c2", "12.25")
	failing := failCommissionUpdates(t, db)

	results, err := svc.ProcessMonthlyPayouts(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	require.Error(t, results[0].Error)
	assert.Equal(t, "tr_1", results[0].ProviderPayoutID)
	assert.Empty(t, notifier.failed)
	assert.Empty(t, notifier.completed)
	assert.Equal(t, int64(2), pendingCount(t, db, a.ID))

	var unrecorded models.Payout
	require.NoError(t, db.Where("affiliate_id = ?", a.ID).First(&unrecorded).Error)
	assert.Equal(t, models.PayoutStatusUnrecorded, unrecorded.Status)
	require.NotNil(t, unrecorded.ProviderPayoutID)
	assert.Equal(t, "tr_1", *unrecorded.ProviderPayoutID)
	assert.Equal(t, 2, unrecorded.CommissionCount)
	assert.Contains(t, unrecorded.FailureReason, "disk full")

	failing.Store(false)
	results, err = svc.ProcessMonthlyPayouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, provider.callCount())
	assert.Equal(t, int64(0), pendingCount(t, db, a.ID))

	var payouts []models.Payout
	require.NoError(t, db.Where("affiliate_id = ?", a.ID).Find(&payouts).Error)
	require.Len(t, payouts, 1)
	assert.Equal(t, models.PayoutStatusCompleted, payouts[0].Status)
	assert.Empty(t, payouts[0].FailureReason)
	assert.Equal(t, []uint{payouts[0].ID}, notifier.completed)

	for _, id := range []uint{c1.ID, c2.ID} {
		var c models.Commission
		require.NoError(t, db.First(&c, id).Error)
		assert.Equal(t, models.CommissionStatusPaid, c.Status)
		require.NotNil(t, c.PayoutID)
		assert.Equal(t, payouts[0].ID, *c.PayoutID)
	}

	res := svc.RequestManualPayout(ctx, a.ID)
	require.ErrorIs(t, res.Error, ErrBelowMinimumThreshold)
	assert.Equal(t, 1, provider.callCount())
}

func TestCommissionIDListRoundTrip(t *testing.T) {
	ids, err := parseIDs(formatIDs([]uint{3, 1, 42}))
	require.NoError(t, err)
	assert.Equal(t, []uint{3, 1, 42}, ids)

	_, err = parseIDs("")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = parseIDs("1,x")
	require.ErrorIs(t, err, ErrInvalidInput)
}
