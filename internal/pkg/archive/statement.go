package archive

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strconv"
	"time"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
)

const StatementContentType = "text/csv"

var statementHeader = []string{
	"payout_id", "commission_id", "subscription_id", "billing_period_start",
	"base_amount", "rate", "amount", "currency", "recurring",
}

// BuildStatement renders the commissions settled by a payout as CSV, one row
// per commission followed by a total row.
func BuildStatement(payout *models.Payout, commissions []models.Commission) ([]byte, error) {
	if payout == nil {
		return nil, errors.New("payout is required")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(statementHeader); err != nil {
		return nil, err
	}

	payoutID := strconv.FormatUint(uint64(payout.ID), 10)
	for _, c := range commissions {
		row := []string{
			payoutID,
			strconv.FormatUint(uint64(c.ID), 10),
			c.SubscriptionID,
			c.BillingPeriodStart.UTC().Format(time.DateOnly),
			c.BaseAmount.StringFixed(affiliate.MinorUnits(c.Currency)),
			c.Rate.StringFixed(4),
			c.Amount.StringFixed(affiliate.MinorUnits(c.Currency)),
			c.Currency,
			strconv.FormatBool(c.IsRecurring),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	if err := w.Write([]string{payoutID, "total", "", "", "", "", payout.Amount.StringFixed(affiliate.MinorUnits(payout.Currency)), payout.Currency, ""}); err != nil {
		return nil, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
