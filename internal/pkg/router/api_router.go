package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PropFox/app/controllers"
	apiv1 "github.com/ManuelReschke/PropFox/internal/api/v1"
	"github.com/ManuelReschke/PropFox/internal/pkg/constants"
	"github.com/ManuelReschke/PropFox/internal/pkg/env"
	"github.com/ManuelReschke/PropFox/internal/pkg/middleware"
)

const defaultRateLimit = 60

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.deps.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	api := app.Group(constants.APIRoute, cors.New(cors.Config{
		AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", "*"),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-API-Key",
	}), limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group(constants.APIV1Route)
	repos := h.deps.Repositories
	apiServer := apiv1.NewAPIServer(
		controllers.NewReferralController(h.deps.Affiliates),
		controllers.NewAffiliateController(h.deps.Affiliates, repos.Affiliate),
		controllers.NewAdminAffiliateController(h.deps.Affiliates, repos.Affiliate, h.deps.Jobs),
		controllers.NewAdminQueueController(h.deps.Jobs),
		controllers.NewAdminStatsController(h.deps.Statistics),
	)
	apiv1.RegisterHandlers(v1, apiServer,
		middleware.APIKeyAuthMiddleware(repos.User),
		middleware.RequireAPIAuth,
		middleware.RequireAPIAdmin,
	)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
