package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PropFox/app/controllers"
	"github.com/ManuelReschke/PropFox/app/repository"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PropFox/internal/pkg/referral"
)

// JobQueue is the background queue the admin routes enqueue to and report on.
type JobQueue interface {
	jobqueue.Enqueuer
	controllers.QueueMonitor
}

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the routes are served by. A nil
// LimiterStorage keeps rate limit counters in memory, a nil Clicks skips
// click counting.
type Dependencies struct {
	Webhooks       controllers.WebhookProcessor
	Affiliates     *affiliate.Service
	Repositories   *repository.Repositories
	Jobs           JobQueue
	Statistics     controllers.ProgramStatsSource
	Clicks         referral.ClickRecorder
	LimiterStorage fiber.Storage
	RateLimit      int
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// The HTTP router goes first so referral capture runs before any API route.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
