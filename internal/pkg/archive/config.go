package archive

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/PropFox/internal/pkg/env"
)

// Config holds the S3 settings for the payout statement archive
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_STATEMENT_PREFIX", "statements"), "/"),
		Enabled:         env.GetEnv("S3_ARCHIVE_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when the statement archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when the statement archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when the statement archive is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if statements are archived
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// StatementKey is the object key of a payout statement:
// <prefix>/YYYY/MM/affiliate-<id>/payout-<id>.csv
func (c *Config) StatementKey(affiliateID, payoutID uint, paidAt time.Time) string {
	prefix := c.Prefix
	if prefix == "" {
		prefix = "statements"
	}
	paidAt = paidAt.UTC()
	return fmt.Sprintf("%s/%04d/%02d/affiliate-%d/payout-%d.csv", prefix, paidAt.Year(), int(paidAt.Month()), affiliateID, payoutID)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
