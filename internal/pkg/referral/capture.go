package referral

import (
	"context"
	"time"

	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

const (
	CookieName = "pf_ref"
	QueryParam = "ref"
	CookieTTL  = 30 * 24 * time.Hour
)

// ClickRecorder counts visits through a referral link.
type ClickRecorder interface {
	AddReferralClick(ctx context.Context, code string) error
}

// Config controls the capture cookie. Clicks is optional.
type Config struct {
	TTL    time.Duration
	Domain string
	Secure bool
	Clicks ClickRecorder
}

// DefaultConfig returns the production cookie settings. The cookie is only
// marked Secure outside of dev.
func DefaultConfig() Config {
	return Config{
		TTL:    CookieTTL,
		Domain: env.GetEnv("REFERRAL_COOKIE_DOMAIN", ""),
		Secure: !env.IsDev(),
	}
}

// Capture stores a well-formed ?ref= code in the referral cookie. A code
// already held in the cookie is kept, so the first link a visitor followed
// wins the same way it does in the ledger.
func Capture(cfg ...Config) fiber.Handler {
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.TTL <= 0 || c.TTL > CookieTTL {
		c.TTL = CookieTTL
	}

	return func(ctx *fiber.Ctx) error {
		code := affiliate.NormalizeReferralCode(ctx.Query(QueryParam))
		if code == "" || !affiliate.IsReferralCode(code) {
			return ctx.Next()
		}
		if c.Clicks != nil {
			if err := c.Clicks.AddReferralClick(ctx.UserContext(), code); err != nil {
				log.Warnf("[Affiliate] Failed to count click for %s: %v", code, err)
			}
		}
		if existing := affiliate.NormalizeReferralCode(ctx.Cookies(CookieName)); affiliate.IsReferralCode(existing) {
			return ctx.Next()
		}

		ctx.Cookie(&fiber.Cookie{
			Name:     CookieName,
			Value:    code,
			Path:     "/",
			Domain:   c.Domain,
			MaxAge:   int(c.TTL / time.Second),
			Expires:  time.Now().Add(c.TTL),
			Secure:   c.Secure,
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
		log.Debugf("[Affiliate] Captured referral code %s", code)
		return ctx.Next()
	}
}

// Captured returns the referral code stored for this visitor, or "".
func Captured(ctx *fiber.Ctx) string {
	code := affiliate.NormalizeReferralCode(ctx.Cookies(CookieName))
	if !affiliate.IsReferralCode(code) {
		return ""
	}
	return code
}

// Clear expires the referral cookie once the signup has been attributed.
func Clear(ctx *fiber.Ctx) {
	ctx.Cookie(&fiber.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		Domain:   env.GetEnv("REFERRAL_COOKIE_DOMAIN", ""),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
