package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/refloop/refloop/app/controllers"
	"github.com/refloop/refloop/internal/pkg/cache"
	"github.com/refloop/refloop/internal/pkg/database"
	"github.com/refloop/refloop/internal/pkg/env"
	"github.com/refloop/refloop/internal/pkg/payments"
	"github.com/refloop/refloop/internal/pkg/referral"
	"github.com/refloop/refloop/internal/pkg/router"
	"github.com/refloop/refloop/internal/pkg/subsync"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	// The processor client is constructed once from validated config and
	// injected everywhere; no ambient global lookup.
	paymentsCfg := payments.Config{
		SecretKey:     env.GetEnv("STRIPE_SECRET_KEY", ""),
		WebhookSecret: env.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
		APIBaseURL:    env.GetEnv("STRIPE_API_BASE_URL", ""),
	}
	paymentsClient, err := payments.NewClient(paymentsCfg)
	if err != nil {
		log.Fatalf("payments client setup failed: %v", err)
	}

	db := database.GetDB()
	referralSvc := referral.NewServiceFromDB(db, paymentsClient)
	syncSvc := subsync.NewServiceFromDB(db, paymentsClient, referralSvc)

	// Optional scheduled drift sweep; the admin endpoint stays the primary
	// trigger.
	if minutes, _ := strconv.Atoi(env.GetEnv("BILLING_SWEEP_INTERVAL_MINUTES", "0")); minutes > 0 {
		if _, err := subsync.StartSweepScheduler(syncSvc, time.Duration(minutes)*time.Minute); err != nil {
			log.Printf("sweep scheduler setup failed: %v", err)
		}
	}

	app := fiber.New(fiber.Config{
		AppName: "RefLoop",
	})
	app.Use(recover.New(), logger.New())

	router.InstallRouter(app, router.NewApiRouter(
		controllers.NewReferralController(referralSvc),
		controllers.NewWebhookController(syncSvc, paymentsCfg.WebhookSecret),
		controllers.NewAdminBillingController(syncSvc),
	))

	return app
}
