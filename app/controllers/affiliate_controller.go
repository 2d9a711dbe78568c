package controllers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/app/models"
	"github.com/ManuelReschke/PropFox/app/repository"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/usercontext"
)

// AffiliateController serves the affiliate's own profile, stats and history
type AffiliateController struct {
	affiliates *affiliate.Service
	repo       repository.AffiliateRepository
}

func NewAffiliateController(affiliates *affiliate.Service, repo repository.AffiliateRepository) *AffiliateController {
	return &AffiliateController{affiliates: affiliates, repo: repo}
}

type applyRequest struct {
	Email   string `json:"email"`
	Website string `json:"website"`
}

type payoutDestinationRequest struct {
	Destination string `json:"destination" validate:"omitempty,startswith=acct_,max=64"`
}

// currentAffiliate loads the profile owned by the authenticated user.
func (ac *AffiliateController) currentAffiliate(c *fiber.Ctx) (*models.AffiliateProfile, error) {
	return ac.affiliates.GetProfileByUserID(c.UserContext(), usercontext.GetUserID(c))
}

// HandleApply files an affiliate application for the authenticated user.
func (ac *AffiliateController) HandleApply(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req applyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		email = userCtx.Email
	}

	profile, err := ac.affiliates.Apply(c.UserContext(), affiliate.ApplyInput{
		UserID:  userCtx.UserID,
		Email:   email,
		Website: req.Website,
	})
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(profileResponse(profile))
}

// HandleGetProfile returns the affiliate profile of the authenticated user.
func (ac *AffiliateController) HandleGetProfile(c *fiber.Ctx) error {
	profile, err := ac.currentAffiliate(c)
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.JSON(profileResponse(profile))
}

// HandleGetStats returns the earnings and referral rollup.
func (ac *AffiliateController) HandleGetStats(c *fiber.Ctx) error {
	profile, err := ac.currentAffiliate(c)
	if err != nil {
		return handleLedgerError(c, err)
	}
	stats, err := ac.affiliates.GetStats(c.UserContext(), profile.ID, time.Now())
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.JSON(stats)
}

// HandleListCommissions returns commission history, newest first.
func (ac *AffiliateController) HandleListCommissions(c *fiber.Ctx) error {
	profile, err := ac.currentAffiliate(c)
	if err != nil {
		return handleLedgerError(c, err)
	}
	page, size := pagination(c)
	result, err := ac.affiliates.ListCommissions(c.UserContext(), profile.ID, page, size)
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.JSON(result)
}

// HandleListPayouts returns payout attempts, newest first.
func (ac *AffiliateController) HandleListPayouts(c *fiber.Ctx) error {
	profile, err := ac.currentAffiliate(c)
	if err != nil {
		return handleLedgerError(c, err)
	}
	page, size := pagination(c)
	payouts, err := ac.repo.ListPayouts(profile.ID, (page-1)*size, size)
	if err != nil {
		return handleLedgerError(c, err)
	}
	return c.JSON(fiber.Map{"items": payouts, "page": page, "page_size": size})
}

// HandleSetPayoutDestination links the connected account payouts are sent to.
func (ac *AffiliateController) HandleSetPayoutDestination(c *fiber.Ctx) error {
	var req payoutDestinationRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
	}
	req.Destination = strings.TrimSpace(req.Destination)
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	profile, err := ac.currentAffiliate(c)
	if err != nil {
		return handleLedgerError(c, err)
	}
	if err := ac.affiliates.SetPayoutDestination(c.UserContext(), profile.ID, req.Destination); err != nil {
		return handleLedgerError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleRequestPayout pays out the pending balance now, if it meets the minimum.
func (ac *AffiliateController) HandleRequestPayout(c *fiber.Ctx) error {
	profile, err := ac.currentAffiliate(c)
	if err != nil {
		return handleLedgerError(c, err)
	}
	if !profile.IsApproved() {
		return jsonError(c, fiber.StatusForbidden, "forbidden", "Affiliate is not approved")
	}

	result := ac.affiliates.RequestManualPayout(c.UserContext(), profile.ID)
	if result.Error != nil {
		return handleLedgerError(c, result.Error)
	}
	return c.JSON(result)
}

func profileResponse(p *models.AffiliateProfile) fiber.Map {
	return fiber.Map{
		"id":                 p.ID,
		"user_id":            p.UserID,
		"email":              p.Email,
		"website":            p.Website,
		"status":             p.Status,
		"promo_code":         p.PromoCodeValue(),
		"referral_link":      p.ReferralLinkValue(),
		"commission_rate":    p.CommissionRate,
		"total_earnings":     p.TotalEarnings,
		"has_payout_account": p.HasPayoutDestination(),
		"approved_at":        formatTimePtr(p.ApprovedAt),
		"created_at":         p.CreatedAt.UTC().Format(time.RFC3339),
	}
}
