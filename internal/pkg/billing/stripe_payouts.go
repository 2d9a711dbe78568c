package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/transfer"
)

// StripePayouts sends affiliate payouts as Stripe Connect transfers. The
// payout destination is the affiliate's connected account id.
type StripePayouts struct {
	createTransfer func(params *stripe.TransferParams) (*stripe.Transfer, error)
}

// NewStripePayouts returns a payout provider using the given secret key.
func NewStripePayouts(secretKey string) *StripePayouts {
	client := transfer.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: strings.TrimSpace(secretKey),
	}
	return &StripePayouts{createTransfer: client.New}
}

// SubmitPayout creates a transfer. The request's idempotency key is passed
// through, so a retried submission never pays twice.
func (p *StripePayouts) SubmitPayout(ctx context.Context, req affiliate.PayoutRequest) (string, error) {
	if strings.TrimSpace(req.Destination) == "" {
		return "", affiliate.ErrNoPayoutDestination
	}
	amount := affiliate.DecimalToMinor(req.Amount, req.Currency)
	if amount <= 0 {
		return "", fmt.Errorf("%w: payout amount %s", affiliate.ErrPayoutRejected, req.Amount)
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("affiliate_id", strconv.FormatUint(uint64(req.AffiliateID), 10))

	tr, err := p.createTransfer(params)
	if err != nil {
		return "", classifyStripeError(err)
	}
	log.Infof("[Payout] Transfer %s of %d %s to %s created", tr.ID, amount, req.Currency, req.Destination)
	return tr.ID, nil
}

// classifyStripeError marks client errors other than conflicts and rate
// limits as rejected so they are not retried.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return err
	}
	status := stripeErr.HTTPStatusCode
	if status >= 400 && status < 500 && status != http.StatusConflict && status != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s", affiliate.ErrPayoutRejected, stripeErr.Msg)
	}
	return fmt.Errorf("stripe transfer: %w", err)
}
