package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/refloop/refloop/app/controllers"
	"github.com/refloop/refloop/internal/pkg/middleware"
)

type ApiRouter struct {
	referrals    *controllers.ReferralController
	webhooks     *controllers.WebhookController
	adminBilling *controllers.AdminBillingController
}

func NewApiRouter(
	referrals *controllers.ReferralController,
	webhooks *controllers.WebhookController,
	adminBilling *controllers.AdminBillingController,
) *ApiRouter {
	return &ApiRouter{
		referrals:    referrals,
		webhooks:     webhooks,
		adminBilling: adminBilling,
	}
}

func (h *ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	v1 := api.Group("/v1")

	// Webhook intake authenticates via signature, not session.
	v1.Post("/webhook/stripe", h.webhooks.HandleStripeWebhook)

	referralGroup := v1.Group("/referral")
	referralGroup.Get("/validate", h.referrals.HandleValidate)
	referralGroup.Post("/register", middleware.APIKeyAuthMiddleware(), middleware.RequireAuth, h.referrals.HandleRegister)
	referralGroup.Get("/stats", middleware.APIKeyAuthMiddleware(), middleware.RequireAuth, h.referrals.HandleStats)

	admin := v1.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdmin)
	admin.Post("/billing/sync", h.adminBilling.HandleSync)
}
