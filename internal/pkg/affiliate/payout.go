package affiliate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/database"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PayoutRequest is what the payout provider needs to move funds.
type PayoutRequest struct {
	AffiliateID    uint
	Destination    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

// PayoutProvider moves funds to an affiliate's payout destination and
// returns the provider's payout id. Errors wrapping ErrPayoutRejected are
// not retried.
type PayoutProvider interface {
	SubmitPayout(ctx context.Context, req PayoutRequest) (string, error)
}

// PayoutResult is the outcome of one affiliate's payout attempt. Failures are
// reported here, never returned as errors.
type PayoutResult struct {
	AffiliateID      uint            `json:"affiliate_id"`
	Success          bool            `json:"success"`
	PayoutID         uint            `json:"payout_id,omitempty"`
	ProviderPayoutID string          `json:"provider_payout_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	CommissionCount  int             `json:"commission_count"`
	Error            error           `json:"-"`
}

// ErrorMessage returns the failure reason or an empty string.
func (r PayoutResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Error()
}

type pendingGroup struct {
	affiliateID uint
	total       decimal.Decimal
	ids         []uint
}

func groupPending(rows []pendingRow) []pendingGroup {
	var groups []pendingGroup
	for _, row := range rows {
		if len(groups) == 0 || groups[len(groups)-1].affiliateID != row.AffiliateID {
			groups = append(groups, pendingGroup{affiliateID: row.AffiliateID, total: decimal.Zero})
		}
		g := &groups[len(groups)-1]
		g.total = g.total.Add(row.Amount)
		g.ids = append(g.ids, row.ID)
	}
	return groups
}

// ProcessMonthlyPayouts pays every affiliate whose pending commissions reach
// the minimum payout. Affiliates below it are skipped and carry over to the
// next run.
func (s *Service) ProcessMonthlyPayouts(ctx context.Context) ([]PayoutResult, error) {
	if err := s.settleUnrecordedPayouts(ctx, 0); err != nil {
		return nil, err
	}
	rows, err := newStore(s.db.WithContext(ctx)).pendingCommissionRows(0)
	if err != nil {
		return nil, fmt.Errorf("load pending commissions: %w", err)
	}

	var results []PayoutResult
	for _, g := range groupPending(rows) {
		if g.total.LessThan(s.cfg.MinPayout) {
			log.Debugf("[Payout] Affiliate %d below threshold (%s < %s), carrying over", g.affiliateID, g.total, s.cfg.MinPayout)
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, s.ProcessAffiliatePayout(ctx, g.affiliateID, g.total, g.ids))
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	log.Infof("[Payout] Run finished: %d attempted, %d succeeded", len(results), succeeded)
	return results, nil
}

// RequestManualPayout pays out everything an affiliate has pending, subject
// to the same minimum as the scheduled run.
func (s *Service) RequestManualPayout(ctx context.Context, affiliateID uint) PayoutResult {
	if err := s.settleUnrecordedPayouts(ctx, affiliateID); err != nil {
		return PayoutResult{AffiliateID: affiliateID, Error: err}
	}
	rows, err := newStore(s.db.WithContext(ctx)).pendingCommissionRows(affiliateID)
	if err != nil {
		return PayoutResult{AffiliateID: affiliateID, Error: err}
	}
	groups := groupPending(rows)
	if len(groups) == 0 || groups[0].total.LessThan(s.cfg.MinPayout) {
		total := decimal.Zero
		if len(groups) > 0 {
			total = groups[0].total
		}
		return PayoutResult{AffiliateID: affiliateID, Amount: total, Error: ErrBelowMinimumThreshold}
	}
	return s.ProcessAffiliatePayout(ctx, affiliateID, groups[0].total, groups[0].ids)
}

// ProcessAffiliatePayout transfers the listed commissions' total and marks
// them paid. The affiliate row and the commissions stay locked from summing
// to marking, so a concurrent run or a new commission cannot change the set
// being paid. Nothing is marked paid unless the provider confirmed the
// transfer. A confirmed transfer that cannot be recorded is kept as an
// unrecorded payout and settled before the affiliate is paid again.
func (s *Service) ProcessAffiliatePayout(ctx context.Context, affiliateID uint, amount decimal.Decimal, commissionIDs []uint) PayoutResult {
	result := PayoutResult{AffiliateID: affiliateID, Amount: amount}

	affiliate, err := newStore(s.db.WithContext(ctx)).profileByID(affiliateID)
	if err != nil {
		result.Error = err
		return result
	}
	if !affiliate.HasPayoutDestination() {
		result.Error = ErrNoPayoutDestination
		return result
	}
	if len(commissionIDs) == 0 {
		result.Error = ErrBelowMinimumThreshold
		return result
	}
	if s.provider == nil {
		result.Error = &PayoutProviderError{AffiliateID: affiliateID, Err: errors.New("no payout provider configured")}
		return result
	}
	if err := s.settleUnrecordedPayouts(ctx, affiliateID); err != nil {
		result.Error = err
		return result
	}

	var (
		payout    *models.Payout
		paid      []models.Commission
		confirmed *models.Payout
	)
	err = database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		confirmed = nil
		st := newStore(tx)
		locked, err := st.lockProfile(affiliateID)
		if err != nil {
			return err
		}
		if !locked.HasPayoutDestination() {
			return ErrNoPayoutDestination
		}

		comms, err := st.lockPendingCommissions(affiliateID, commissionIDs)
		if err != nil {
			return err
		}
		total := decimal.Zero
		ids := make([]uint, 0, len(comms))
		for _, c := range comms {
			total = total.Add(c.Amount)
			ids = append(ids, c.ID)
		}
		if len(comms) == 0 || total.LessThan(s.cfg.MinPayout) {
			return ErrBelowMinimumThreshold
		}
		if !total.Equal(amount) {
			log.Warnf("[Payout] Affiliate %d total changed since grouping (%s -> %s), paying locked total", affiliateID, amount, total)
		}

		providerID, err := s.submitWithRetry(ctx, PayoutRequest{
			AffiliateID:    affiliateID,
			Destination:    locked.PayoutDestination,
			Amount:         total,
			Currency:       s.cfg.PayoutCurrency,
			IdempotencyKey: payoutIdempotencyKey(affiliateID, ids),
			Description:    fmt.Sprintf("Affiliate commissions (%d)", len(ids)),
		})
		if err != nil {
			return err
		}
		confirmed = &models.Payout{
			AffiliateID:      affiliateID,
			Amount:           total,
			Currency:         s.cfg.PayoutCurrency,
			CommissionCount:  len(ids),
			ProviderPayoutID: &providerID,
			Status:           models.PayoutStatusUnrecorded,
			CommissionIDs:    formatIDs(ids),
		}

		payout = &models.Payout{
			AffiliateID:      affiliateID,
			Amount:           total,
			Currency:         s.cfg.PayoutCurrency,
			CommissionCount:  len(ids),
			ProviderPayoutID: &providerID,
			Status:           models.PayoutStatusCompleted,
		}
		if err := tx.Create(payout).Error; err != nil {
			return err
		}
		marked, err := st.markCommissionsPaid(ids, payout.ID, s.now().UTC())
		if err != nil {
			return err
		}
		if marked != int64(len(ids)) {
			return fmt.Errorf("marked %d of %d commissions paid", marked, len(ids))
		}
		paid = comms
		return nil
	})

	if err != nil {
		result.Error = err
		if confirmed != nil {
			result.ProviderPayoutID = *confirmed.ProviderPayoutID
			s.recordUnrecordedPayout(ctx, confirmed, err)
			return result
		}
		if !errors.Is(err, ErrBelowMinimumThreshold) && !errors.Is(err, ErrNoPayoutDestination) {
			s.recordFailedPayout(ctx, affiliate, amount, len(commissionIDs), err)
		}
		log.Errorf("[Payout] Payout for affiliate %d failed, commissions stay pending: %v", affiliateID, err)
		return result
	}

	result.Success = true
	result.PayoutID = payout.ID
	result.ProviderPayoutID = *payout.ProviderPayoutID
	result.Amount = payout.Amount
	result.CommissionCount = payout.CommissionCount
	log.Infof("[Payout] Paid %s %s to affiliate %d (payout %d, %s)", payout.Amount.StringFixed(MinorUnits(payout.Currency)), payout.Currency, affiliateID, payout.ID, result.ProviderPayoutID)

	s.notifier.PayoutCompleted(ctx, affiliate, payout, paid)
	return result
}

// submitWithRetry calls the provider with exponential backoff. The same
// idempotency key is sent on every attempt so a retry after a lost response
// cannot transfer twice.
func (s *Service) submitWithRetry(ctx context.Context, req PayoutRequest) (string, error) {
	attempts := s.cfg.PayoutMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		id, err := s.provider.SubmitPayout(ctx, req)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if errors.Is(err, ErrPayoutRejected) || attempt == attempts {
			return "", &PayoutProviderError{AffiliateID: req.AffiliateID, Attempts: attempt, Err: err}
		}

		delay := s.cfg.PayoutRetryBackoff * time.Duration(1<<(attempt-1))
		log.Warnf("[Payout] Provider call for affiliate %d failed (attempt %d/%d), retrying in %v: %v", req.AffiliateID, attempt, attempts, delay, err)
		select {
		case <-ctx.Done():
			return "", &PayoutProviderError{AffiliateID: req.AffiliateID, Attempts: attempt, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
	return "", &PayoutProviderError{AffiliateID: req.AffiliateID, Attempts: attempts, Err: lastErr}
}

func (s *Service) recordFailedPayout(ctx context.Context, affiliate *models.AffiliateProfile, amount decimal.Decimal, count int, cause error) {
	failed := &models.Payout{
		AffiliateID:     affiliate.ID,
		Amount:          amount,
		Currency:        s.cfg.PayoutCurrency,
		CommissionCount: count,
		Status:          models.PayoutStatusFailed,
		FailureReason:   cause.Error(),
	}
	if err := s.db.WithContext(ctx).Create(failed).Error; err != nil {
		log.Errorf("[Payout] Could not record failed payout for affiliate %d: %v", affiliate.ID, err)
		return
	}
	s.notifier.PayoutFailed(ctx, affiliate, failed)
}

// recordUnrecordedPayout keeps the provider id of a transfer whose
// bookkeeping was rolled back, outside the failed transaction.
func (s *Service) recordUnrecordedPayout(ctx context.Context, p *models.Payout, cause error) {
	p.FailureReason = cause.Error()
	log.Errorf("[Payout] Provider confirmed transfer %s for affiliate %d but recording it failed: %v", *p.ProviderPayoutID, p.AffiliateID, cause)
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		log.Errorf("[Payout] Could not persist confirmed transfer %s for affiliate %d (commissions %s), reconcile manually: %v",
			*p.ProviderPayoutID, p.AffiliateID, p.CommissionIDs, err)
	}
}

// settleUnrecordedPayouts marks the commissions of confirmed but unrecorded
// transfers paid so they are never sent to the provider again. An
// affiliateID of 0 settles every affiliate.
func (s *Service) settleUnrecordedPayouts(ctx context.Context, affiliateID uint) error {
	var open []models.Payout
	q := s.db.WithContext(ctx).Where("status = ?", models.PayoutStatusUnrecorded)
	if affiliateID != 0 {
		q = q.Where("affiliate_id = ?", affiliateID)
	}
	if err := q.Order("id ASC").Find(&open).Error; err != nil {
		return fmt.Errorf("load unrecorded payouts: %w", err)
	}

	for i := range open {
		p := &open[i]
		ids, err := parseIDs(p.CommissionIDs)
		if err != nil {
			return fmt.Errorf("unrecorded payout %d: %w", p.ID, err)
		}
		var marked int64
		err = database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
			var err error
			marked, err = newStore(tx).markCommissionsPaid(ids, p.ID, s.now().UTC())
			if err != nil {
				return err
			}
			return tx.Model(&models.Payout{}).
				Where("id = ? AND status = ?", p.ID, models.PayoutStatusUnrecorded).
				Updates(map[string]interface{}{
					"status":         models.PayoutStatusCompleted,
					"failure_reason": "",
				}).Error
		})
		if err != nil {
			return fmt.Errorf("settle unrecorded payout %d: %w", p.ID, err)
		}
		p.Status = models.PayoutStatusCompleted
		p.FailureReason = ""
		log.Infof("[Payout] Settled transfer %s for affiliate %d: %d of %d commissions marked paid", *p.ProviderPayoutID, p.AffiliateID, marked, len(ids))

		st := newStore(s.db.WithContext(ctx))
		affiliate, err := st.profileByID(p.AffiliateID)
		if err != nil {
			log.Warnf("[Payout] Could not load affiliate %d for notification: %v", p.AffiliateID, err)
			continue
		}
		var comms []models.Commission
		if err := s.db.WithContext(ctx).Where("payout_id = ?", p.ID).Order("id ASC").Find(&comms).Error; err != nil {
			log.Warnf("[Payout] Could not load commissions of payout %d: %v", p.ID, err)
		}
		s.notifier.PayoutCompleted(ctx, affiliate, p, comms)
	}
	return nil
}

// payoutIdempotencyKey is stable for a given set of commissions.
func payoutIdempotencyKey(affiliateID uint, ids []uint) string {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", affiliateID, formatIDs(sorted))))
	return "payout_" + hex.EncodeToString(sum[:16])
}

func formatIDs(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func parseIDs(s string) ([]uint, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%w: no commission ids", ErrInvalidInput)
	}
	parts := strings.Split(s, ",")
	ids := make([]uint, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: commission id %q", ErrInvalidInput, part)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
