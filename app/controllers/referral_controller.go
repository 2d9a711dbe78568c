package controllers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/referral"
	"github.com/ManuelReschke/PropFox/internal/pkg/usercontext"
)

// ReferralController attributes signups to affiliates
type ReferralController struct {
	affiliates *affiliate.Service
}

func NewReferralController(affiliates *affiliate.Service) *ReferralController {
	return &ReferralController{affiliates: affiliates}
}

type trackReferralRequest struct {
	ReferralCode string `json:"referral_code" validate:"omitempty,max=32"`
}

// HandleTrackReferral attributes the authenticated user to the code in the
// body or, when absent, to the captured referral cookie.
func (rc *ReferralController) HandleTrackReferral(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req trackReferralRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", err.Error())
	}

	code := strings.TrimSpace(req.ReferralCode)
	if code == "" {
		code = referral.Captured(c)
	}
	if code == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "No referral code supplied")
	}

	ref, err := rc.affiliates.TrackReferral(c.UserContext(), code, userCtx.UserID)
	if err != nil {
		return handleLedgerError(c, err)
	}

	referral.Clear(c)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"referral_id":   ref.ID,
		"affiliate_id":  ref.AffiliateID,
		"referral_code": ref.ReferralCode,
		"status":        ref.Status,
	})
}
