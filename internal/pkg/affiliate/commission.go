package affiliate

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CommissionCalculation is the outcome of applying a rate to one billing amount.
type CommissionCalculation struct {
	BaseAmount       decimal.Decimal `json:"base_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	IsRecurring      bool            `json:"is_recurring"`
}

// zero- and three-decimal ISO-4217 currencies; everything else uses two
var currencyMinorUnits = map[string]int32{
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "isk": 0, "jpy": 0, "kmf": 0, "krw": 0,
	"pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0, "xof": 0, "xpf": 0,
	"bhd": 3, "iqd": 3, "jod": 3, "kwd": 3, "lyd": 3, "omr": 3, "tnd": 3,
}

// MinorUnits returns the number of decimal places used by currency.
func MinorUnits(currency string) int32 {
	if places, ok := currencyMinorUnits[strings.ToLower(strings.TrimSpace(currency))]; ok {
		return places
	}
	return 2
}

// CalculateCommission applies rate to billingAmount in a two-decimal currency.
func CalculateCommission(billingAmount, rate decimal.Decimal) CommissionCalculation {
	return CalculateCommissionIn("usd", billingAmount, rate)
}

// CalculateCommissionIn rounds billingAmount × rate half-to-even at the
// currency's minor unit, so repeated renewals carry no rounding bias.
func CalculateCommissionIn(currency string, billingAmount, rate decimal.Decimal) CommissionCalculation {
	return CommissionCalculation{
		BaseAmount:       billingAmount,
		CommissionRate:   rate,
		CommissionAmount: billingAmount.Mul(rate).RoundBank(MinorUnits(currency)),
	}
}

// ValidateRate enforces 0 < rate <= 1.
func ValidateRate(rate decimal.Decimal) error {
	if !rate.IsPositive() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return ErrInvalidRate
	}
	return nil
}

// MinorToDecimal converts a provider amount in minor units (cents) to a decimal.
func MinorToDecimal(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -MinorUnits(currency))
}

// DecimalToMinor converts a decimal amount to provider minor units.
func DecimalToMinor(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(MinorUnits(currency)).RoundBank(0).IntPart()
}
