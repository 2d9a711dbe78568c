package affiliate

import (
	"context"
	"testing"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStats(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	ctx := context.Background()
	a := seedAffiliate(t, db, svc, 1, "ABC123")

	_, err := svc.TrackReferral(ctx, "ABC123", 100)
	require.NoError(t, err)
	_, err = svc.TrackReferral(ctx, "ABC123", 101)
	require.NoError(t, err)

	creditInTx(t, svc, db, billingEvent(100, "sub_1", "in_1", "49.00", january))
	creditInTx(t, svc, db, billingEvent(100, "sub_1", "in_2", "49.00", february))

	old := seedPendingCommission(t, db, a.ID, "old", "4.00")
	require.NoError(t, db.Model(&models.Commission{}).Where("id = ?", old.ID).
		UpdateColumn("created_at", time.Now().UTC().AddDate(0, 0, -45)).Error)

	res := svc.RequestManualPayout(ctx, a.ID)
	require.True(t, res.Success)
	seedPendingCommission(t, db, a.ID, "fresh", "1.50")

	stats, err := svc.GetStats(ctx, a.ID, time.Now().UTC())
	require.NoError(t, err)
	assertDecimal(t, "30.00", stats.TotalEarnings)
	assertDecimal(t, "28.50", stats.PaidEarnings)
	assertDecimal(t, "1.50", stats.PendingEarnings)
	assertDecimal(t, "26.00", stats.MonthlyEarnings)
	assert.Equal(t, int64(2), stats.TotalReferrals)
	assert.Equal(t, int64(1), stats.ConvertedReferrals)
	assert.InDelta(t, 0.5, stats.ConversionRate, 1e-9)
}

func TestGetStatsWithoutReferrals(t *testing.T) {
	svc, db, _, _ := newTestService(t)
	a := seedAffiliate(t, db, svc, 1, "ABC123")

	stats, err := svc.GetStats(context.Background(), a.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, float64(0), stats.ConversionRate)
	assert.True(t, stats.PendingEarnings.IsZero())
	assert.True(t, stats.TotalEarnings.IsZero())

	_, err = svc.GetStats(context.Background(), 9999, time.Now())
	assert.ErrorIs(t, err, ErrAffiliateNotFound)
}
