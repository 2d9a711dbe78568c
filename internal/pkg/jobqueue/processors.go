package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/archive"
	"github.com/ManuelReschke/PropFox/internal/pkg/constants"
	"github.com/ManuelReschke/PropFox/internal/pkg/mail"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Ledger is the part of the affiliate service the jobs call back into.
type Ledger interface {
	ProcessMonthlyPayouts(ctx context.Context) ([]affiliate.PayoutResult, error)
	GetStats(ctx context.Context, affiliateID uint, now time.Time) (*affiliate.AffiliateStats, error)
	Config() affiliate.Config
}

// StatementStore archives payout statements.
type StatementStore interface {
	UploadStatement(ctx context.Context, objectKey string, body []byte, metadata map[string]string) (*archive.UploadResult, error)
}

// Processors holds what the ledger jobs need. A nil Mailer or Statements
// turns the matching jobs into logged no-ops.
type Processors struct {
	DB            *gorm.DB
	Ledger        Ledger
	Mailer        mail.Sender
	Statements    StatementStore
	ArchiveConfig *archive.Config
}

// Register installs the ledger job handlers on q.
func (p *Processors) Register(q *Queue) {
	q.Register(JobTypeCommissionEarnedEmail, p.processCommissionEarnedEmail)
	q.Register(JobTypePayoutCompletedEmail, p.processPayoutCompletedEmail)
	q.Register(JobTypePayoutFailedEmail, p.processPayoutFailedEmail)
	q.Register(JobTypePayoutStatement, p.processPayoutStatement)
	q.Register(JobTypeMonthlyPayouts, p.processMonthlyPayouts)
}

func (p *Processors) processCommissionEarnedEmail(ctx context.Context, job *Job) error {
	payload, err := CommissionEmailJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if p.Mailer == nil {
		log.Debugf("[JobQueue] Mailer disabled, skipping commission mail %d", payload.CommissionID)
		return nil
	}

	var commission models.Commission
	if err := p.DB.WithContext(ctx).First(&commission, payload.CommissionID).Error; err != nil {
		return fmt.Errorf("load commission %d: %w", payload.CommissionID, err)
	}
	profile, err := p.loadProfile(ctx, commission.AffiliateID)
	if err != nil {
		return err
	}
	stats, err := p.Ledger.GetStats(ctx, profile.ID, time.Now())
	if err != nil {
		return err
	}

	cfg := p.Ledger.Config()
	msg, err := mail.CommissionEarnedMessage(profile.Email, mail.CommissionEarnedData{
		Amount:       formatMoney(commission.Amount, commission.Currency),
		Currency:     strings.ToUpper(commission.Currency),
		Recurring:    commission.IsRecurring,
		Pending:      formatMoney(stats.PendingEarnings, commission.Currency),
		Threshold:    formatMoney(cfg.MinPayout, commission.Currency),
		DashboardURL: dashboardURL(cfg),
	})
	if err != nil {
		return err
	}
	return p.Mailer.Send(ctx, msg)
}

func (p *Processors) processPayoutCompletedEmail(ctx context.Context, job *Job) error {
	if p.Mailer == nil {
		return nil
	}
	payout, profile, err := p.loadPayout(ctx, job)
	if err != nil {
		return err
	}

	reference := ""
	if payout.ProviderPayoutID != nil {
		reference = *payout.ProviderPayoutID
	}
	msg, err := mail.PayoutCompletedMessage(profile.Email, mail.PayoutCompletedData{
		Amount:          formatMoney(payout.Amount, payout.Currency),
		Currency:        strings.ToUpper(payout.Currency),
		CommissionCount: payout.CommissionCount,
		Reference:       reference,
		DashboardURL:    dashboardURL(p.Ledger.Config()),
	})
	if err != nil {
		return err
	}
	return p.Mailer.Send(ctx, msg)
}

func (p *Processors) processPayoutFailedEmail(ctx context.Context, job *Job) error {
	if p.Mailer == nil {
		return nil
	}
	payout, profile, err := p.loadPayout(ctx, job)
	if err != nil {
		return err
	}

	msg, err := mail.PayoutFailedMessage(profile.Email, mail.PayoutFailedData{
		Amount:   formatMoney(payout.Amount, payout.Currency),
		Currency: strings.ToUpper(payout.Currency),
		Reason:   payout.FailureReason,
	})
	if err != nil {
		return err
	}
	return p.Mailer.Send(ctx, msg)
}

func (p *Processors) processPayoutStatement(ctx context.Context, job *Job) error {
	if p.Statements == nil || !p.ArchiveConfig.IsEnabled() {
		log.Debugf("[JobQueue] Statement archive disabled, skipping job %s", job.ID)
		return nil
	}
	payout, _, err := p.loadPayout(ctx, job)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutStatusCompleted {
		return nil
	}

	var commissions []models.Commission
	if err := p.DB.WithContext(ctx).Where("payout_id = ?", payout.ID).Order("id ASC").Find(&commissions).Error; err != nil {
		return err
	}
	body, err := archive.BuildStatement(payout, commissions)
	if err != nil {
		return err
	}

	key := p.ArchiveConfig.StatementKey(payout.AffiliateID, payout.ID, payout.CreatedAt)
	_, err = p.Statements.UploadStatement(ctx, key, body, map[string]string{
		"affiliate-id": strconv.FormatUint(uint64(payout.AffiliateID), 10),
		"payout-id":    strconv.FormatUint(uint64(payout.ID), 10),
	})
	return err
}

func (p *Processors) processMonthlyPayouts(ctx context.Context, job *Job) error {
	payload, err := MonthlyPayoutsJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	results, err := p.Ledger.ProcessMonthlyPayouts(ctx)
	if err != nil {
		return fmt.Errorf("payout run %s: %w", payload.Period, err)
	}
	paid, failed := 0, 0
	for _, r := range results {
		if r.Success {
			paid++
		} else {
			failed++
		}
	}
	log.Infof("[JobQueue] Payout run %s finished: %d paid, %d failed", payload.Period, paid, failed)
	return nil
}

func (p *Processors) loadPayout(ctx context.Context, job *Job) (*models.Payout, *models.AffiliateProfile, error) {
	payload, err := PayoutJobPayloadFromMap(job.Payload)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid payload: %w", err)
	}
	var payout models.Payout
	if err := p.DB.WithContext(ctx).First(&payout, payload.PayoutID).Error; err != nil {
		return nil, nil, fmt.Errorf("load payout %d: %w", payload.PayoutID, err)
	}
	profile, err := p.loadProfile(ctx, payout.AffiliateID)
	if err != nil {
		return nil, nil, err
	}
	return &payout, profile, nil
}

func (p *Processors) loadProfile(ctx context.Context, affiliateID uint) (*models.AffiliateProfile, error) {
	var profile models.AffiliateProfile
	err := p.DB.WithContext(ctx).First(&profile, affiliateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, affiliate.ErrAffiliateNotFound
	}
	return &profile, err
}

func formatMoney(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(affiliate.MinorUnits(currency))
}

func dashboardURL(cfg affiliate.Config) string {
	return "https://" + cfg.PublicDomain + constants.AffiliateDashboardRoute
}
