package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/PropFox/app/repository"
	"github.com/ManuelReschke/PropFox/internal/pkg/affiliate"
	"github.com/ManuelReschke/PropFox/internal/pkg/archive"
	"github.com/ManuelReschke/PropFox/internal/pkg/billing"
	"github.com/ManuelReschke/PropFox/internal/pkg/cache"
	"github.com/ManuelReschke/PropFox/internal/pkg/database"
	"github.com/ManuelReschke/PropFox/internal/pkg/env"
	"github.com/ManuelReschke/PropFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PropFox/internal/pkg/mail"
	"github.com/ManuelReschke/PropFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PropFox/internal/pkg/router"
	"github.com/ManuelReschke/PropFox/internal/pkg/statistics"
)

func main() {
	app, manager := NewApplication()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("Shutting down...")
		manager.Stop()
		if err := app.Shutdown(); err != nil {
			log.Errorf("Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *jobqueue.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)

	affiliateCfg, err := affiliate.LoadConfig()
	if err != nil {
		panic(err)
	}
	billingCfg := billing.LoadConfig()

	// Payouts stay disabled until a Stripe key is configured.
	var payouts affiliate.PayoutProvider
	if billingCfg.PayoutsEnabled() {
		payouts = billing.NewStripePayouts(billingCfg.SecretKey)
	} else {
		log.Warn("[Payout] STRIPE_SECRET_KEY not set, affiliate payouts are disabled")
	}

	workers, _ := strconv.Atoi(env.GetEnv("JOB_WORKERS", "3"))
	queue := jobqueue.NewQueue(workers)

	affiliates := affiliate.NewService(db, *affiliateCfg, payouts, jobqueue.NewNotifier(queue))
	reconciler := billing.NewReconciler(db, billingCfg, affiliates)

	processors := &jobqueue.Processors{
		DB:     db,
		Ledger: affiliates,
	}
	if smtpCfg := mail.LoadSMTPConfig(); smtpCfg.Host != "" {
		processors.Mailer = mail.NewSMTPMailer(smtpCfg)
	} else {
		log.Warn("[Mail] SMTP_HOST not set, affiliate emails are disabled")
	}
	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		panic(err)
	}
	if archiveCfg.IsEnabled() {
		client, err := archive.NewClient(context.Background(), archiveCfg)
		if err != nil {
			panic(err)
		}
		processors.Statements = client
		processors.ArchiveConfig = archiveCfg
	}
	processors.Register(queue)

	clicks := counter.NewClicks(cache.GetClient(), db)

	manager := jobqueue.NewManager(queue, affiliateCfg.PayoutDay)
	manager.SetCounterFlusher(clicks)
	manager.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	rateLimit, _ := strconv.Atoi(env.GetEnv("API_RATE_LIMIT", "60"))

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		Webhooks:       reconciler,
		Affiliates:     affiliates,
		Repositories:   repository.GetGlobalRepositories(),
		Jobs:           queue,
		Statistics:     statistics.NewService(db, statistics.RedisStore()),
		Clicks:         clicks,
		LimiterStorage: router.NewLimiterStorage(),
		RateLimit:      rateLimit,
	})

	return app, manager
}
