package counter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const referralClicksKey = "affiliate:counters:clicks"

// Clicks buffers referral link clicks in a Redis hash keyed by promo code
// and periodically folds them into affiliate_profiles.click_count.
type Clicks struct {
	client *redis.Client
	db     *gorm.DB
}

// NewClicks creates a click counter on the given Redis client and database.
func NewClicks(client *redis.Client, db *gorm.DB) *Clicks {
	return &Clicks{client: client, db: db}
}

// AddReferralClick increments the pending click counter for a promo code.
func (c *Clicks) AddReferralClick(ctx context.Context, code string) error {
	return c.client.HIncrBy(ctx, referralClicksKey, code, 1).Err()
}

// Flush drains the pending counters and applies them to the database.
// RENAME moves the hash aside atomically so clicks recorded during the flush
// land in a fresh hash.
func (c *Clicks) Flush(ctx context.Context) error {
	tmpKey := fmt.Sprintf("%s:tmp:%d", referralClicksKey, time.Now().UnixNano())
	if err := c.client.Rename(ctx, referralClicksKey, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		return err
	}
	defer c.client.Del(context.WithoutCancel(ctx), tmpKey)

	data, err := c.client.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}

	increments := make(map[string]int64, len(data))
	for code, v := range data {
		inc, err := strconv.ParseInt(v, 10, 64)
		if err != nil || inc == 0 {
			continue
		}
		increments[code] = inc
	}
	return ApplyClicks(c.db.WithContext(ctx), increments)
}

// ApplyClicks adds increments (promo code -> clicks) to the matching
// affiliates in a single UPDATE. Codes without an affiliate are dropped.
func ApplyClicks(db *gorm.DB, increments map[string]int64) error {
	codes := make([]string, 0, len(increments))
	for code, inc := range increments {
		if code == "" || inc == 0 {
			continue
		}
		codes = append(codes, code)
	}
	if len(codes) == 0 {
		return nil
	}
	sort.Strings(codes)

	// UPDATE affiliate_profiles SET click_count = click_count + CASE promo_code WHEN ? THEN ? ... END WHERE promo_code IN (...)
	var builder strings.Builder
	args := make([]interface{}, 0, len(codes)*3)
	builder.WriteString("UPDATE affiliate_profiles SET click_count = click_count + CASE promo_code")
	for _, code := range codes {
		builder.WriteString(" WHEN ? THEN ?")
		args = append(args, code, increments[code])
	}
	builder.WriteString(" ELSE 0 END WHERE promo_code IN (")
	for i, code := range codes {
		if i > 0 {
			builder.WriteString(",")
		}
		builder.WriteString("?")
		args = append(args, code)
	}
	builder.WriteString(")")

	return db.Exec(builder.String(), args...).Error
}
