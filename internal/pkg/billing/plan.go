package billing

import (
	"strings"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/internal/pkg/entitlements"
)

func normalizePlan(plan string) string {
	return string(entitlements.Normalize(plan))
}

func planRank(plan string) int {
	return entitlements.Rank(entitlements.Plan(plan))
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case models.BillingIntervalMonth, models.BillingIntervalYear:
		return i
	default:
		return models.BillingIntervalUnknown
	}
}

func isEntitlingStatus(status string) bool {
	sub := models.BillingSubscription{Status: strings.ToLower(strings.TrimSpace(status))}
	return sub.IsEntitling()
}
