package entitlements

import (
	"strings"

	"github.com/ManuelReschke/PropFox/app/models"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// Normalize maps stored or provider plan names to a known plan; anything
// unknown is free.
func Normalize(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPro:
		return PlanPro
	case PlanTeam:
		return PlanTeam
	default:
		return PlanFree
	}
}

// Rank orders plans so the best of several subscriptions wins.
func Rank(plan Plan) int {
	switch Normalize(string(plan)) {
	case PlanTeam:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// EffectivePlan returns the tier currently granted to a user.
func EffectivePlan(us *models.UserSettings) Plan {
	if us == nil {
		return PlanFree
	}
	return Normalize(us.Plan)
}

// IsPaid reports whether plan is above the free tier.
func IsPaid(plan Plan) bool {
	return Rank(plan) > 0
}
