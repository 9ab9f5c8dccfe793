package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/refloop/refloop/internal/pkg/payments"
	"github.com/refloop/refloop/internal/pkg/subsync"
)

// WebhookController ingests payment-processor webhook deliveries.
type WebhookController struct {
	svc           *subsync.Service
	webhookSecret string
}

// NewWebhookController creates a controller from injected dependencies.
func NewWebhookController(svc *subsync.Service, webhookSecret string) *WebhookController {
	return &WebhookController{svc: svc, webhookSecret: webhookSecret}
}

// HandleStripeWebhook verifies, records and dispatches a webhook delivery.
// Unresolvable events are acknowledged with 200: the processor retrying a
// delivery we can never attribute would be pure noise, and the raw payload
// stays in the events table for manual reconciliation.
func (ctl *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	signatureValid := payments.VerifyWebhookSignature(rawBody, signature, ctl.webhookSecret, payments.DefaultSignatureTolerance)

	// The envelope id doubles as the dedup key, so parse before recording.
	// Garbled payloads are still persisted, deduplicated by content hash.
	event, parseErr := payments.ParseWebhookEvent(rawBody)
	eventID := ""
	eventType := ""
	if event != nil {
		eventID = event.ID
		eventType = event.Type
	}

	created, stored, err := ctl.svc.RecordWebhookEvent(eventID, eventType, string(rawBody), signatureValid)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	// Only replays of successfully processed events short-circuit. A retry
	// of a delivery that failed (or never finished) must run again, since
	// the processor's redelivery is the sole retry path.
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	if !signatureValid {
		_ = ctl.svc.MarkWebhookProcessed(stored.ID, errors.New("invalid webhook signature"))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if parseErr != nil {
		_ = ctl.svc.MarkWebhookProcessed(stored.ID, parseErr)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	var processErr error
	switch {
	case event.Type == payments.EventCheckoutSessionCompleted:
		processErr = ctl.svc.HandleCheckoutCompleted(ctx, event.CheckoutSession)
	case event.IsSubscriptionEvent():
		processErr = ctl.svc.HandleSubscriptionEvent(ctx, event.Subscription)
	default:
		_ = ctl.svc.MarkWebhookProcessed(stored.ID, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	_ = ctl.svc.MarkWebhookProcessed(stored.ID, processErr)
	if errors.Is(processErr, subsync.ErrOwnerUnresolved) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}
	if processErr != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_sync_failed"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
