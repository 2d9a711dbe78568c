package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/app/repository"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/jobqueue"
)

// AdminAffiliateController handles the admin side of the affiliate program
type AdminAffiliateController struct {
	affiliates *affiliate.Service
	repo       repository.AffiliateRepository
	jobs       jobqueue.Enqueuer
	now        func() time.Time
}

func NewAdminAffiliateController(affiliates *affiliate.Service, repo repository.AffiliateRepository, jobs jobqueue.Enqueuer) *AdminAffiliateController {
	return &AdminAffiliateController{affiliates: affiliates, repo: repo, jobs: jobs, now: time.Now}
}

type commissionRateRequest struct {
	Rate string `json:"rate" validate:"required"`
}

// HandleListAffiliates lists profiles, optionally filtered by ?status=.
func (ac *AdminAffiliateController) HandleListAffiliates(c *fiber.Ctx) error {
	status := c.Query("status")
	switch status {
	case "", models.AffiliateStatusPending, models.AffiliateStatusApproved, models.AffiliateStatusSuspended:
	default:
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Unknown status filter")
	}

	page, size := pagination(c)
	profiles, err := ac.repo.List(status, (page-1)*size, size)
	if err != nil {
		return handleLedgerError(c, err)
	}
	total, err := ac.repo.Count(status)
	if err != nil {
		return handleLedgerError(c, err)
	}

	items := make([]fiber.Map, 0, len(profiles))
	for i := range profiles {
		items = append(items, profileResponse(&profiles[i]))
	}
	return c.JSON(fiber.Map{"items": items, "page": page, "page_size": size, "total": total})
}

// HandleApprove approves a pending application.
func (ac *AdminAffiliateController) HandleApprove(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid affiliate id")
	}
	profile, err := ac.affiliates.Approve(c.UserContext(), id)
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.JSON(profileResponse(profile))
}

// HandleReject removes a pending application.
func (ac *AdminAffiliateController) HandleReject(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid affiliate id")
	}
	if err := ac.affiliates.Reject(c.UserContext(), id); err != nil {
		return handleLedgerError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleSuspend stops an affiliate from earning new commissions.
func (ac *AdminAffiliateController) HandleSuspend(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid affiliate id")
	}
	if err := ac.affiliates.Suspend(c.UserContext(), id); err != nil {
		return handleLedgerError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleUpdateRate sets the rate used for the affiliate's future commissions.
func (ac *AdminAffiliateController) HandleUpdateRate(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid affiliate id")
	}
	var req commissionRateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Rate must be a decimal number")
	}
	if err := ac.affiliates.UpdateCommissionRate(c.UserContext(), id, rate); err != nil {
		return handleLedgerError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRunPayouts queues a payout run outside the monthly schedule.
func (ac *AdminAffiliateController) HandleRunPayouts(c *fiber.Ctx) error {
	period := ac.now().UTC().Format("2006-01")
	job, err := ac.jobs.Enqueue(context.WithoutCancel(c.UserContext()), jobqueue.JobTypeMonthlyPayouts, jobqueue.MonthlyPayoutsJobPayload{
		Period: period,
	}.ToMap())
	if err != nil {
		log.Errorf("[Payout] Failed to queue manual payout run: %v", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "queue_unavailable", "Payout run could not be queued")
	}
	log.Infof("[Payout] Manual payout run for %s queued as job %s", period, job.ID)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": job.ID, "period": period})
}
