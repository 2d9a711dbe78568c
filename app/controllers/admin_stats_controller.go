package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/internal/pkg/statistics"
)

// ProgramStatsSource provides the affiliate program rollup
type ProgramStatsSource interface {
	GetProgramStats(ctx context.Context) (*statistics.ProgramStats, error)
}

// AdminStatsController serves program-wide affiliate statistics
type AdminStatsController struct {
	stats ProgramStatsSource
}

func NewAdminStatsController(stats ProgramStatsSource) *AdminStatsController {
	return &AdminStatsController{stats: stats}
}

// HandleProgramStats returns the program rollup.
func (asc *AdminStatsController) HandleProgramStats(c *fiber.Ctx) error {
	stats, err := asc.stats.GetProgramStats(c.UserContext())
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.JSON(stats)
}
