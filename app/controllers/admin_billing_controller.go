package controllers

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/refloop/refloop/internal/pkg/subsync"
)

// AdminBillingController serves admin-only billing reconciliation endpoints.
type AdminBillingController struct {
	svc *subsync.Service
}

// NewAdminBillingController creates a controller from an injected service.
func NewAdminBillingController(svc *subsync.Service) *AdminBillingController {
	return &AdminBillingController{svc: svc}
}

// HandleSync replays the processor's subscription list into local storage.
// The sweep is best-effort: partial failures are reported, not fatal.
func (ctl *AdminBillingController) HandleSync(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := ctl.svc.SweepAll(ctx)
	if err != nil {
		log.Printf("subscription sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "sync_failed", "message": "Subscription sweep failed"})
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
