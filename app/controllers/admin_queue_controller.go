package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/internal/pkg/jobqueue"
)

// QueueMonitor exposes job queue counters
type QueueMonitor interface {
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
}

// AdminQueueController reports on the background job queue
type AdminQueueController struct {
	queue QueueMonitor
}

// NewAdminQueueController creates a new admin queue controller
func NewAdminQueueController(queue QueueMonitor) *AdminQueueController {
	return &AdminQueueController{queue: queue}
}

// HandleQueueStats returns pending/processing sizes and per-status job counters.
func (aqc *AdminQueueController) HandleQueueStats(c *fiber.Ctx) error {
	ctx := c.UserContext()

	pending, err := aqc.queue.GetQueueSize(ctx)
	if err != nil {
		return aqc.handleError(c, err)
	}
	processing, err := aqc.queue.GetProcessingSize(ctx)
	if err != nil {
		return aqc.handleError(c, err)
	}
	stats, err := aqc.queue.GetJobStats(ctx)
	if err != nil {
		return aqc.handleError(c, err)
	}

	counters := make(fiber.Map, len(stats))
	for status, n := range stats {
		counters[string(status)] = n
	}
	return c.JSON(fiber.Map{
		"queued":     pending,
		"processing": processing,
		"jobs":       counters,
	})
}

// handleError is a helper method for consistent error handling
func (aqc *AdminQueueController) handleError(c *fiber.Ctx, err error) error {
	return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Job queue unavailable: "+err.Error())
}
