package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/app/controllers"
)

// Pong is the body of GET /ping
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer groups the v1 handlers. Authentication is attached by
// RegisterHandlers, the handlers read the caller from the user context.
type APIServer struct {
	Referrals  *controllers.ReferralController
	Affiliates *controllers.AffiliateController
	Admin      *controllers.AdminAffiliateController
	Queue      *controllers.AdminQueueController
	Stats      *controllers.AdminStatsController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(referrals *controllers.ReferralController, affiliates *controllers.AffiliateController, admin *controllers.AdminAffiliateController, queue *controllers.AdminQueueController, stats *controllers.AdminStatsController) *APIServer {
	return &APIServer{Referrals: referrals, Affiliates: affiliates, Admin: admin, Queue: queue, Stats: stats}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// RegisterHandlers mounts the v1 routes on router. authenticate resolves the
// caller, requireUser and requireAdmin gate the two route families.
func RegisterHandlers(router fiber.Router, s *APIServer, authenticate, requireUser, requireAdmin fiber.Handler) {
	router.Get("/ping", s.GetPing)

	referrals := router.Group("/referrals", authenticate, requireUser)
	referrals.Post("/track", s.Referrals.HandleTrackReferral)

	aff := router.Group("/affiliate", authenticate, requireUser)
	aff.Post("/apply", s.Affiliates.HandleApply)
	aff.Get("/profile", s.Affiliates.HandleGetProfile)
	aff.Get("/stats", s.Affiliates.HandleGetStats)
	aff.Get("/commissions", s.Affiliates.HandleListCommissions)
	aff.Get("/payouts", s.Affiliates.HandleListPayouts)
	aff.Post("/payouts", s.Affiliates.HandleRequestPayout)
	aff.Put("/payout-destination", s.Affiliates.HandleSetPayoutDestination)

	admin := router.Group("/admin", authenticate, requireAdmin)
	admin.Get("/affiliates", s.Admin.HandleListAffiliates)
	admin.Post("/affiliates/:id/approve", s.Admin.HandleApprove)
	admin.Post("/affiliates/:id/reject", s.Admin.HandleReject)
	admin.Post("/affiliates/:id/suspend", s.Admin.HandleSuspend)
	admin.Put("/affiliates/:id/rate", s.Admin.HandleUpdateRate)
	admin.Post("/payouts/run", s.Admin.HandleRunPayouts)
	admin.Get("/jobs", s.Queue.HandleQueueStats)
	admin.Get("/stats", s.Stats.HandleProgramStats)
}
