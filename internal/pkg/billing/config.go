package billing

import (
	"time"

	"github.com/ManuelReschke/PropFox/internal/pkg/env"
)

// Config holds Stripe credentials and webhook policy
type Config struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	HandlerTimeout   time.Duration
}

// LoadConfig loads billing configuration from environment variables
func LoadConfig() *Config {
	tolerance, err := time.ParseDuration(env.GetEnv("STRIPE_WEBHOOK_TOLERANCE", "5m"))
	if err != nil || tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Config{
		SecretKey:        env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret:    env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		WebhookTolerance: tolerance,
		HandlerTimeout:   10 * time.Second,
	}
}

// PayoutsEnabled reports whether a Stripe key is configured for transfers.
func (c *Config) PayoutsEnabled() bool {
	return c != nil && c.SecretKey != ""
}
