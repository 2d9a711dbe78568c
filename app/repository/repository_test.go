package repository

import (
	"testing"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestUserRepository_GetByAPIKeyHash(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)

	user := &models.User{Name: "agent", Email: "agent@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, repo.Create(user))

	settings, err := models.GetOrCreateUserSettings(db, user.ID)
	require.NoError(t, err)
	raw, err := settings.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, db.Save(settings).Error)

	found, foundSettings, err := repo.GetByAPIKeyHash(models.HashAPIKey(raw))
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, settings.ID, foundSettings.ID)

	_, _, err = repo.GetByAPIKeyHash(models.HashAPIKey("pfx_unknown"))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, _, err = repo.GetByAPIKeyHash("  ")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	settings.RevokeAPIKey()
	require.NoError(t, db.Save(settings).Error)
	_, _, err = repo.GetByAPIKeyHash(models.HashAPIKey(raw))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUserRepository_TouchAPIKeyUsage(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewUserRepository(db)

	settings, err := models.GetOrCreateUserSettings(db, 7)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.TouchAPIKeyUsage(settings.ID, at))

	reloaded, err := models.GetOrCreateUserSettings(db, 7)
	require.NoError(t, err)
	require.NotNil(t, reloaded.APIKeyLastUsedAt)
	assert.True(t, at.Equal(reloaded.APIKeyLastUsedAt.UTC()))
}

func TestAffiliateRepository_ListByStatus(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAffiliateRepository(db)

	for i, status := range []string{models.AffiliateStatusPending, models.AffiliateStatusApproved, models.AffiliateStatusPending} {
		require.NoError(t, db.Create(&models.AffiliateProfile{
			UserID:         uint(i + 1),
			Email:          "a@example.com",
			CommissionRate: decimal.RequireFromString("0.25"),
			Status:         status,
		}).Error)
	}

	pending, err := repo.List(models.AffiliateStatusPending, 0, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint(1), pending[0].UserID)
	assert.Equal(t, uint(3), pending[1].UserID)

	total, err := repo.Count("")
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	approved, err := repo.Count(models.AffiliateStatusApproved)
	require.NoError(t, err)
	assert.EqualValues(t, 1, approved)
}

func TestAffiliateRepository_ListPayoutsNewestFirst(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewAffiliateRepository(db)

	base := time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.Create(&models.Payout{
			AffiliateID: 1,
			Amount:      decimal.NewFromInt(int64(10 + i)),
			Currency:    "usd",
			Status:      models.PayoutStatusCompleted,
			CreatedAt:   base.AddDate(0, i, 0),
		}).Error)
	}
	require.NoError(t, db.Create(&models.Payout{AffiliateID: 2, Amount: decimal.NewFromInt(99), Currency: "usd", Status: models.PayoutStatusFailed}).Error)

	payouts, err := repo.ListPayouts(1, 0, 2)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.True(t, payouts[0].CreatedAt.After(payouts[1].CreatedAt))
	assert.True(t, payouts[0].Amount.Equal(decimal.NewFromInt(12)))
}
