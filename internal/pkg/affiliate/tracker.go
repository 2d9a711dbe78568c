package affiliate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/database"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var referralCodePattern = regexp.MustCompile(`^[A-Z0-9]{3,32}$`)

// NormalizeReferralCode trims and upper-cases a code taken from a link or cookie.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsReferralCode reports whether code has the shape of an issued promo code.
func IsReferralCode(code string) bool {
	return referralCodePattern.MatchString(code)
}

// CommissionInput describes one paid billing event for a user.
type CommissionInput struct {
	UserID         uint
	SubscriptionID string
	// IdempotencyKey is the provider invoice or payment id.
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	PeriodStart    time.Time
}

// ConversionResult reports the commission created for a referral's conversion.
// Converted is false when an earlier call already performed the conversion.
type ConversionResult struct {
	Referral   *models.Referral
	Commission *models.Commission
	Converted  bool
}

// TrackReferral attributes userID to the approved affiliate owning
// referralCode. A user keeps the first affiliate they were attributed to and
// cannot be attributed once they have paid for or started a subscription.
func (s *Service) TrackReferral(ctx context.Context, referralCode string, userID uint) (*models.Referral, error) {
	code := NormalizeReferralCode(referralCode)
	if userID == 0 || !referralCodePattern.MatchString(code) {
		return nil, ErrInvalidReferralCode
	}

	st := newStore(s.db.WithContext(ctx))
	if existing, err := st.referralByUserID(userID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}
	if purchased, err := st.hasPurchased(userID); err != nil {
		return nil, err
	} else if purchased {
		return nil, ErrAlreadyCustomer
	}

	affiliate, err := st.approvedProfileByPromoCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, err
	}
	if !linkEmbedsCode(affiliate.ReferralLinkValue(), code) || affiliate.UserID == userID {
		return nil, ErrInvalidReferralCode
	}

	ref := &models.Referral{
		AffiliateID:  affiliate.ID,
		UserID:       userID,
		ReferralCode: code,
		Status:       models.ReferralStatusPending,
	}
	created, err := st.createReferralIfAbsent(ref)
	if err != nil {
		return nil, err
	}
	if created {
		log.Infof("[Affiliate] User %d attributed to affiliate %d", userID, affiliate.ID)
		return ref, nil
	}

	stored, err := st.referralByUserID(userID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("referral for user %d vanished after conflict", userID)
	}
	return stored, nil
}

// ConvertReferral credits the user's referral for its first paid subscription.
// It returns nil when the user was not referred. Repeated calls return the
// commission created by the first one.
func (s *Service) ConvertReferral(ctx context.Context, in CommissionInput) (*ConversionResult, error) {
	var res *ConversionResult
	err := database.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		res, err = s.ConvertReferralTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res != nil && res.Converted && res.Commission != nil {
		s.notifyCommission(ctx, res.Commission)
	}
	return res, nil
}

// ConvertReferralTx is ConvertReferral inside the caller's transaction.
func (s *Service) ConvertReferralTx(ctx context.Context, tx *gorm.DB, in CommissionInput) (*ConversionResult, error) {
	if err := s.checkInput(&in); err != nil {
		return nil, err
	}
	st := newStore(tx)
	ref, err := st.referralByUserID(in.UserID)
	if err != nil || ref == nil {
		return nil, err
	}

	won, err := st.markConverted(ref.ID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if !won {
		existing, err := st.conversionCommission(ref.ID)
		if err != nil {
			return nil, err
		}
		fresh, err := st.referralByUserID(in.UserID)
		if err != nil {
			return nil, err
		}
		return &ConversionResult{Referral: fresh, Commission: existing}, nil
	}

	commission, _, err := s.creditTx(st, ref, in, false)
	if err != nil {
		return nil, err
	}
	fresh, err := st.referralByUserID(in.UserID)
	if err != nil {
		return nil, err
	}
	return &ConversionResult{Referral: fresh, Commission: commission, Converted: true}, nil
}

// RecordRecurringCommissionTx credits a renewal on an already converted
// referral. A replayed billing event is a no-op: created is false and the
// existing commission is returned.
func (s *Service) RecordRecurringCommissionTx(ctx context.Context, tx *gorm.DB, in CommissionInput) (commission *models.Commission, created bool, err error) {
	if err := s.checkInput(&in); err != nil {
		return nil, false, err
	}
	st := newStore(tx)
	ref, err := st.referralByUserID(in.UserID)
	if err != nil || ref == nil || !ref.IsConverted() {
		return nil, false, err
	}
	return s.creditTx(st, ref, in, true)
}

// CreditBillingEventTx routes a paid billing event: the first one converts a
// pending referral, any later one is a recurring commission. The conditional
// status update decides the route, so concurrent deliveries of different
// invoices cannot both take the conversion path.
func (s *Service) CreditBillingEventTx(ctx context.Context, tx *gorm.DB, in CommissionInput) (commission *models.Commission, created bool, err error) {
	if err := s.checkInput(&in); err != nil {
		return nil, false, err
	}
	st := newStore(tx)
	ref, err := st.referralByUserID(in.UserID)
	if err != nil || ref == nil {
		return nil, false, err
	}

	recurring := true
	if !ref.IsConverted() {
		won, err := st.markConverted(ref.ID, s.now().UTC())
		if err != nil {
			return nil, false, err
		}
		recurring = !won
	}
	return s.creditTx(st, ref, in, recurring)
}

// creditTx computes and inserts a commission and bumps the affiliate's running
// total in the same transaction. Suspended affiliates earn nothing.
func (s *Service) creditTx(st *store, ref *models.Referral, in CommissionInput, recurring bool) (*models.Commission, bool, error) {
	affiliate, err := st.profileByID(ref.AffiliateID)
	if err != nil {
		return nil, false, err
	}
	if !affiliate.IsApproved() {
		log.Warnf("[Affiliate] Skipping commission for %s: affiliate %d is %s", in.IdempotencyKey, affiliate.ID, affiliate.Status)
		return nil, false, nil
	}

	calc := CalculateCommissionIn(in.Currency, in.Amount, affiliate.CommissionRate)
	calc.IsRecurring = recurring
	commission := &models.Commission{
		AffiliateID:        affiliate.ID,
		ReferralID:         ref.ID,
		SubscriptionID:     in.SubscriptionID,
		BillingPeriodStart: in.PeriodStart,
		IdempotencyKey:     in.IdempotencyKey,
		BaseAmount:         calc.BaseAmount,
		Amount:             calc.CommissionAmount,
		Rate:               calc.CommissionRate,
		Currency:           in.Currency,
		IsRecurring:        calc.IsRecurring,
		Status:             models.CommissionStatusPending,
	}

	created, err := st.insertCommission(commission)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := st.existingCommission(commission)
		if err != nil {
			return nil, false, err
		}
		log.Infof("[Affiliate] Billing event %s already credited as commission %d", in.IdempotencyKey, existing.ID)
		return existing, false, nil
	}

	if err := st.incrementEarnings(affiliate.ID, commission.Amount); err != nil {
		return nil, false, err
	}
	log.Infof("[Affiliate] Commission %d of %s %s for affiliate %d (recurring=%t)",
		commission.ID, commission.Amount.StringFixed(MinorUnits(in.Currency)), in.Currency, affiliate.ID, recurring)
	return commission, true, nil
}

// NotifyCommission queues the "commission earned" notification. Call it
// after the transaction that created c has committed.
func (s *Service) NotifyCommission(ctx context.Context, c *models.Commission) {
	s.notifyCommission(ctx, c)
}

func (s *Service) notifyCommission(ctx context.Context, c *models.Commission) {
	if c == nil {
		return
	}
	affiliate, err := newStore(s.db.WithContext(ctx)).profileByID(c.AffiliateID)
	if err != nil {
		log.Warnf("[Affiliate] Could not load affiliate %d for notification: %v", c.AffiliateID, err)
		return
	}
	s.notifier.CommissionEarned(ctx, affiliate, c)
}

func (s *Service) checkInput(in *CommissionInput) error {
	if in.UserID == 0 || strings.TrimSpace(in.SubscriptionID) == "" {
		return fmt.Errorf("%w: user id and subscription id are required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	in.Currency = strings.ToLower(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = s.cfg.PayoutCurrency
	}
	if strings.TrimSpace(in.IdempotencyKey) == "" {
		in.IdempotencyKey = "conversion:" + in.SubscriptionID
	}
	if in.PeriodStart.IsZero() {
		in.PeriodStart = s.now()
	}
	in.PeriodStart = in.PeriodStart.UTC().Truncate(time.Second)
	return nil
}

func linkEmbedsCode(link, code string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Query().Get("ref"), code)
}
