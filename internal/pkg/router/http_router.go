package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/app/controllers"
	"github.com/ManuelReschke/PropFox/internal/pkg/constants"
	"github.com/ManuelReschke/PropFox/internal/pkg/referral"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Remember ?ref= codes on every page a visitor can land on.
	capture := referral.DefaultConfig()
	capture.Clicks = h.deps.Clicks
	app.Use(referral.Capture(capture))

	webhooks := controllers.NewWebhookController(h.deps.Webhooks)
	app.Post(constants.StripeWebhookRoute, webhooks.HandleStripeWebhook)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}
