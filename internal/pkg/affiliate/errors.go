package affiliate

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidReferralCode   = errors.New("invalid referral code")
	ErrAlreadyCustomer       = errors.New("user has already purchased a subscription")
	ErrDuplicateCommission   = errors.New("duplicate commission")
	ErrNoPayoutDestination   = errors.New("affiliate has no payout destination")
	ErrBelowMinimumThreshold = errors.New("pending earnings below minimum payout threshold")
	ErrAffiliateNotFound     = errors.New("affiliate not found")
	ErrAffiliateExists       = errors.New("affiliate application already exists")
	ErrNotPending            = errors.New("affiliate application is not pending")
	ErrInvalidRate           = errors.New("commission rate must be greater than 0 and at most 1")
	ErrInvalidAmount         = errors.New("billing amount must be positive")
	ErrInvalidInput          = errors.New("invalid input")

	// ErrPayoutRejected marks provider failures that will not succeed on retry.
	ErrPayoutRejected = errors.New("payout rejected by provider")
)

// PayoutProviderError wraps any failure returned by the external payout call.
type PayoutProviderError struct {
	AffiliateID uint
	Attempts    int
	Err         error
}

func (e *PayoutProviderError) Error() string {
	return fmt.Sprintf("payout provider error for affiliate %d after %d attempt(s): %v", e.AffiliateID, e.Attempts, e.Err)
}

func (e *PayoutProviderError) Unwrap() error {
	return e.Err
}
