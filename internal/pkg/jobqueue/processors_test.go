package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/archive"
	"github.com/ManuelReschke/PropFox/internal/pkg/mail"
	"github.com/ManuelReschke/PropFox/internal/pkg/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeLedger struct {
	results []affiliate.PayoutResult
	err     error
	runs    int
}

func (f *fakeLedger) ProcessMonthlyPayouts(context.Context) ([]affiliate.PayoutResult, error) {
	f.runs++
	return f.results, f.err
}

func (f *fakeLedger) GetStats(_ context.Context, affiliateID uint, _ time.Time) (*affiliate.AffiliateStats, error) {
	return &affiliate.AffiliateStats{
		AffiliateID:     affiliateID,
		PendingEarnings: decimal.RequireFromString("7.5"),
	}, nil
}

func (f *fakeLedger) Config() affiliate.Config {
	cfg := affiliate.DefaultConfig()
	cfg.PublicDomain = "propfox.test"
	return cfg
}

type fakeMailer struct {
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type upload struct {
	key      string
	body     string
	metadata map[string]string
}

type fakeStatementStore struct {
	uploads []upload
}

func (f *fakeStatementStore) UploadStatement(_ context.Context, key string, body []byte, metadata map[string]string) (*archive.UploadResult, error) {
	f.uploads = append(f.uploads, upload{key: key, body: string(body), metadata: metadata})
	return &archive.UploadResult{ObjectKey: key}, nil
}

func seedAffiliate(t *testing.T, db *gorm.DB) *models.AffiliateProfile {
	t.Helper()
	profile := &models.AffiliateProfile{
		UserID:         10,
		Email:          "agent@example.com",
		CommissionRate: decimal.RequireFromString("0.25"),
		Status:         models.AffiliateStatusApproved,
	}
	require.NoError(t, db.Create(profile).Error)
	return profile
}

func seedPayout(t *testing.T, db *gorm.DB, affiliateID uint, status string) *models.Payout {
	t.Helper()
	ref := "tr_123"
	payout := &models.Payout{
		AffiliateID:     affiliateID,
		Amount:          decimal.RequireFromString("24.5"),
		Currency:        "usd",
		CommissionCount: 2,
		Status:          status,
		CreatedAt:       time.Date(2026, 2, 1, 6, 0, 0, 0, time.UTC),
	}
	if status == models.PayoutStatusCompleted {
		payout.ProviderPayoutID = &ref
	} else {
		payout.FailureReason = "account closed"
	}
	require.NoError(t, db.Create(payout).Error)
	return payout
}

func seedCommission(t *testing.T, db *gorm.DB, affiliateID uint, payoutID *uint, period time.Time) *models.Commission {
	t.Helper()
	commission := &models.Commission{
		AffiliateID:        affiliateID,
		ReferralID:         1,
		SubscriptionID:     "sub_1",
		BillingPeriodStart: period,
		IdempotencyKey:     "in_" + period.Format("200601"),
		BaseAmount:         decimal.RequireFromString("49"),
		Amount:             decimal.RequireFromString("12.25"),
		Rate:               decimal.RequireFromString("0.25"),
		Currency:           "usd",
		IsRecurring:        payoutID != nil,
		Status:             models.CommissionStatusPending,
		PayoutID:           payoutID,
	}
	require.NoError(t, db.Create(commission).Error)
	return commission
}

func TestCommissionEarnedEmail(t *testing.T) {
	db := testutil.NewTestDB(t)
	profile := seedAffiliate(t, db)
	commission := seedCommission(t, db, profile.ID, nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mailer := &fakeMailer{}
	p := &Processors{DB: db, Ledger: &fakeLedger{}, Mailer: mailer}

	job := &Job{Type: JobTypeCommissionEarnedEmail, Payload: CommissionEmailJobPayload{CommissionID: commission.ID, AffiliateID: profile.ID}.ToMap()}
	require.NoError(t, p.processCommissionEarnedEmail(context.Background(), job))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "agent@example.com", mailer.sent[0].To)
	assert.Equal(t, "You earned 12.25 USD", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "7.50")
	assert.Contains(t, mailer.sent[0].Body, "https://propfox.test/affiliate")
}

func TestCommissionEarnedEmailUnknownCommission(t *testing.T) {
	db := testutil.NewTestDB(t)
	p := &Processors{DB: db, Ledger: &fakeLedger{}, Mailer: &fakeMailer{}}

	job := &Job{Payload: CommissionEmailJobPayload{CommissionID: 99}.ToMap()}
	err := p.processCommissionEarnedEmail(context.Background(), job)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMailJobsWithoutMailerAreNoOps(t *testing.T) {
	p := &Processors{}
	ctx := context.Background()

	assert.NoError(t, p.processCommissionEarnedEmail(ctx, &Job{Payload: CommissionEmailJobPayload{CommissionID: 1}.ToMap()}))
	assert.NoError(t, p.processPayoutCompletedEmail(ctx, &Job{Payload: PayoutJobPayload{PayoutID: 1}.ToMap()}))
	assert.NoError(t, p.processPayoutFailedEmail(ctx, &Job{Payload: PayoutJobPayload{PayoutID: 1}.ToMap()}))
}

func TestPayoutEmails(t *testing.T) {
	db := testutil.NewTestDB(t)
	profile := seedAffiliate(t, db)
	completed := seedPayout(t, db, profile.ID, models.PayoutStatusCompleted)
	failed := seedPayout(t, db, profile.ID, models.PayoutStatusFailed)
	mailer := &fakeMailer{}
	p := &Processors{DB: db, Ledger: &fakeLedger{}, Mailer: mailer}
	ctx := context.Background()

	require.NoError(t, p.processPayoutCompletedEmail(ctx, &Job{Payload: PayoutJobPayload{PayoutID: completed.ID}.ToMap()}))
	require.NoError(t, p.processPayoutFailedEmail(ctx, &Job{Payload: PayoutJobPayload{PayoutID: failed.ID}.ToMap()}))

	require.Len(t, mailer.sent, 2)
	assert.Equal(t, "Your payout of 24.50 USD is on its way", mailer.sent[0].Subject)
	assert.Contains(t, mailer.sent[0].Body, "tr_123")
	assert.Equal(t, "Your affiliate payout could not be sent", mailer.sent[1].Subject)
	assert.Contains(t, mailer.sent[1].Body, "account closed")
}

func TestPayoutEmailSendErrorIsReturned(t *testing.T) {
	db := testutil.NewTestDB(t)
	profile := seedAffiliate(t, db)
	payout := seedPayout(t, db, profile.ID, models.PayoutStatusCompleted)
	sendErr := errors.New("smtp down")
	p := &Processors{DB: db, Ledger: &fakeLedger{}, Mailer: &fakeMailer{err: sendErr}}

	err := p.processPayoutCompletedEmail(context.Background(), &Job{Payload: PayoutJobPayload{PayoutID: payout.ID}.ToMap()})
	assert.ErrorIs(t, err, sendErr)
}

func TestPayoutStatementIsArchived(t *testing.T) {
	db := testutil.NewTestDB(t)
	profile := seedAffiliate(t, db)
	payout := seedPayout(t, db, profile.ID, models.PayoutStatusCompleted)
	seedCommission(t, db, profile.ID, &payout.ID, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	seedCommission(t, db, profile.ID, nil, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	store := &fakeStatementStore{}
	p := &Processors{
		DB:            db,
		Ledger:        &fakeLedger{},
		Statements:    store,
		ArchiveConfig: &archive.Config{Prefix: "statements", Enabled: true},
	}

	require.NoError(t, p.processPayoutStatement(context.Background(), &Job{Payload: PayoutJobPayload{PayoutID: payout.ID, AffiliateID: profile.ID}.ToMap()}))

	require.Len(t, store.uploads, 1)
	up := store.uploads[0]
	assert.Equal(t, "statements/2026/02/affiliate-1/payout-1.csv", up.key)
	assert.Contains(t, up.body, "sub_1")
	assert.NotContains(t, up.body, "2026-02-01")
	assert.Contains(t, up.body, "total")
	assert.Equal(t, "1", up.metadata["affiliate-id"])
}

func TestPayoutStatementSkipped(t *testing.T) {
	db := testutil.NewTestDB(t)
	profile := seedAffiliate(t, db)
	failed := seedPayout(t, db, profile.ID, models.PayoutStatusFailed)
	ctx := context.Background()

	t.Run("archive disabled", func(t *testing.T) {
		store := &fakeStatementStore{}
		p := &Processors{DB: db, Statements: store, ArchiveConfig: &archive.Config{}}
		require.NoError(t, p.processPayoutStatement(ctx, &Job{Payload: PayoutJobPayload{PayoutID: failed.ID}.ToMap()}))
		assert.Empty(t, store.uploads)
	})

	t.Run("failed payout", func(t *testing.T) {
		store := &fakeStatementStore{}
		p := &Processors{DB: db, Statements: store, ArchiveConfig: &archive.Config{Enabled: true}}
		require.NoError(t, p.processPayoutStatement(ctx, &Job{Payload: PayoutJobPayload{PayoutID: failed.ID}.ToMap()}))
		assert.Empty(t, store.uploads)
	})
}

func TestMonthlyPayoutsJob(t *testing.T) {
	ledger := &fakeLedger{results: []affiliate.PayoutResult{{AffiliateID: 1, Success: true}, {AffiliateID: 2}}}
	p := &Processors{Ledger: ledger}

	job := &Job{Payload: MonthlyPayoutsJobPayload{Period: "2026-02"}.ToMap()}
	require.NoError(t, p.processMonthlyPayouts(context.Background(), job))
	assert.Equal(t, 1, ledger.runs)

	ledger.err = errors.New("database gone")
	err := p.processMonthlyPayouts(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payout run 2026-02")
}

func TestRegisterInstallsLedgerHandlers(t *testing.T) {
	q := NewQueueWithClient(unreachableClient(t), 1)
	(&Processors{}).Register(q)

	for _, jobType := range []JobType{
		JobTypeCommissionEarnedEmail,
		JobTypePayoutCompletedEmail,
		JobTypePayoutFailedEmail,
		JobTypePayoutStatement,
		JobTypeMonthlyPayouts,
	} {
		q.handlersMu.RLock()
		_, ok := q.handlers[jobType]
		q.handlersMu.RUnlock()
		assert.True(t, ok, jobType)
	}
}
