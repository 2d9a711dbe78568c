package affiliate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/internal/pkg/constants"
	"github.com/ManuelReschke/PropFox/internal/pkg/env"
	"github.com/shopspring/decimal"
)

// Config holds affiliate program policy values
type Config struct {
	DefaultRate        decimal.Decimal
	MinPayout          decimal.Decimal
	PayoutCurrency     string
	PayoutDay          int
	PublicDomain       string
	PayoutMaxAttempts  int
	PayoutRetryBackoff time.Duration
}

// DefaultConfig returns the program defaults: 25% commission, $10.00 minimum payout.
func DefaultConfig() Config {
	return Config{
		DefaultRate:        decimal.RequireFromString("0.25"),
		MinPayout:          decimal.RequireFromString("10.00"),
		PayoutCurrency:     "usd",
		PayoutDay:          1,
		PublicDomain:       "localhost",
		PayoutMaxAttempts:  3,
		PayoutRetryBackoff: 500 * time.Millisecond,
	}
}

// LoadConfig loads affiliate policy from environment variables
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	rate, err := decimal.NewFromString(env.GetEnv("AFFILIATE_DEFAULT_RATE", cfg.DefaultRate.String()))
	if err != nil {
		return nil, fmt.Errorf("AFFILIATE_DEFAULT_RATE: %w", err)
	}
	if err := ValidateRate(rate); err != nil {
		return nil, fmt.Errorf("AFFILIATE_DEFAULT_RATE: %w", err)
	}
	cfg.DefaultRate = rate

	minPayout, err := decimal.NewFromString(env.GetEnv("AFFILIATE_MIN_PAYOUT", cfg.MinPayout.StringFixed(2)))
	if err != nil {
		return nil, fmt.Errorf("AFFILIATE_MIN_PAYOUT: %w", err)
	}
	if minPayout.IsNegative() {
		return nil, errors.New("AFFILIATE_MIN_PAYOUT must not be negative")
	}
	cfg.MinPayout = minPayout

	cfg.PayoutCurrency = strings.ToLower(strings.TrimSpace(env.GetEnv("AFFILIATE_PAYOUT_CURRENCY", cfg.PayoutCurrency)))
	if len(cfg.PayoutCurrency) != 3 {
		return nil, fmt.Errorf("AFFILIATE_PAYOUT_CURRENCY must be an ISO-4217 code, got %q", cfg.PayoutCurrency)
	}

	day, err := strconv.Atoi(env.GetEnv("AFFILIATE_PAYOUT_DAY", strconv.Itoa(cfg.PayoutDay)))
	if err != nil || day < 1 || day > 28 {
		return nil, errors.New("AFFILIATE_PAYOUT_DAY must be between 1 and 28")
	}
	cfg.PayoutDay = day

	cfg.PublicDomain = env.GetEnv("PUBLIC_DOMAIN", cfg.PublicDomain)

	if v := env.GetEnv("AFFILIATE_PAYOUT_MAX_ATTEMPTS", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, errors.New("AFFILIATE_PAYOUT_MAX_ATTEMPTS must be a positive integer")
		}
		cfg.PayoutMaxAttempts = n
	}

	return &cfg, nil
}

// ReferralLink builds the public signup link that embeds a promo code.
func (c Config) ReferralLink(code string) string {
	domain := strings.TrimSuffix(strings.TrimSpace(c.PublicDomain), "/")
	domain = strings.TrimPrefix(strings.TrimPrefix(domain, "https://"), "http://")
	return fmt.Sprintf("https://%s%s?ref=%s", domain, constants.SignupRoute, code)
}
