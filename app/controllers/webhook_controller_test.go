package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refloop/refloop/app/models"
	"github.com/refloop/refloop/internal/pkg/payments"
	"github.com/refloop/refloop/internal/pkg/subsync"
)

const testWebhookSecret = "whsec_test"

type webhookFakeRepo struct {
	subs      map[string]*models.Subscription
	events    map[string]*models.WebhookEvent
	nextID    uint
	processed map[uint]string
}

func newWebhookFakeRepo() *webhookFakeRepo {
	return &webhookFakeRepo{
		subs:      map[string]*models.Subscription{},
		events:    map[string]*models.WebhookEvent{},
		processed: map[uint]string{},
	}
}

func (r *webhookFakeRepo) UpsertSubscription(sub *models.Subscription) error {
	stored := *sub
	r.subs[sub.ID] = &stored
	return nil
}

func (r *webhookFakeRepo) GetUserIDByCustomerID(string) (uint, error) { return 0, nil }
func (r *webhookFakeRepo) GetUserIDByEmail(string) (uint, error)     { return 0, nil }

func (r *webhookFakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		return false, existing, nil
	}
	r.nextID++
	event.ID = r.nextID
	stored := *event
	r.events[key] = &stored
	return true, &stored, nil
}

func (r *webhookFakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.processed[id] = processingError
	now := time.Now()
	for _, event := range r.events {
		if event.ID == id {
			event.ProcessedAt = &now
			event.ProcessingError = processingError
		}
	}
	return nil
}

type webhookFakeGateway struct {
	subs map[string]*payments.Subscription
}

func (g *webhookFakeGateway) GetSubscription(_ context.Context, id string) (*payments.Subscription, error) {
	if sub, ok := g.subs[id]; ok {
		out := *sub
		return &out, nil
	}
	return nil, fmt.Errorf("no such subscription %q", id)
}

func (g *webhookFakeGateway) GetCustomer(_ context.Context, id string) (*payments.Customer, error) {
	return &payments.Customer{ID: id}, nil
}

func (g *webhookFakeGateway) ListSubscriptions(context.Context, string, string, int) ([]payments.Subscription, bool, error) {
	return nil, false, nil
}

func newWebhookTestApp(t *testing.T) (*fiber.App, *webhookFakeRepo, *webhookFakeGateway) {
	t.Helper()
	repo := newWebhookFakeRepo()
	gateway := &webhookFakeGateway{subs: map[string]*payments.Subscription{}}
	svc := subsync.NewService(repo, gateway, nil)
	ctl := NewWebhookController(svc, testWebhookSecret)

	app := fiber.New()
	app.Post("/webhook", ctl.HandleStripeWebhook)
	return app, repo, gateway
}

func stripeSignature(payload, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func postWebhook(t *testing.T, app *fiber.App, payload, signature string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHandleStripeWebhookSubscriptionEvent(t *testing.T) {
	app, repo, _ := newWebhookTestApp(t)
	payload := `{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {
			"id": "sub_1",
			"customer": "cus_1",
			"status": "active",
			"metadata": {"user_id": "7"}
		}}
	}`

	status, _ := postWebhook(t, app, payload, stripeSignature(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)

	require.Contains(t, repo.subs, "sub_1")
	assert.Equal(t, uint(7), repo.subs["sub_1"].UserID)
	assert.Equal(t, models.SubscriptionStatusActive, repo.subs["sub_1"].Status)
	assert.Equal(t, "", repo.processed[1])
}

func TestHandleStripeWebhookDuplicateDelivery(t *testing.T) {
	app, repo, _ := newWebhookTestApp(t)
	payload := `{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_1", "status": "active", "metadata": {"user_id": "7"}}}
	}`
	signature := stripeSignature(payload, testWebhookSecret)

	status, _ := postWebhook(t, app, payload, signature)
	require.Equal(t, fiber.StatusOK, status)

	status, body := postWebhook(t, app, payload, signature)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "duplicate")
	assert.Len(t, repo.events, 1)
}

func TestHandleStripeWebhookInvalidSignature(t *testing.T) {
	app, repo, _ := newWebhookTestApp(t)
	payload := `{"id": "evt_1", "type": "invoice.paid", "data": {"object": {}}}`

	status, body := postWebhook(t, app, payload, stripeSignature(payload, "whsec_wrong"))
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, body, "invalid_signature")

	// The delivery is still retained for audit, flagged unverified.
	require.Len(t, repo.events, 1)
	for _, event := range repo.events {
		assert.False(t, event.SignatureValid)
	}
}

func TestHandleStripeWebhookMalformedPayload(t *testing.T) {
	app, repo, _ := newWebhookTestApp(t)
	payload := `{"not": "an event"}`

	status, body := postWebhook(t, app, payload, stripeSignature(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "invalid_payload")
	// Retained and deduplicated by content hash despite the missing id.
	require.Len(t, repo.events, 1)
	for key := range repo.events {
		assert.Contains(t, key, "hash:")
	}
}

func TestHandleStripeWebhookUnresolvableOwnerIsAcknowledged(t *testing.T) {
	app, repo, _ := newWebhookTestApp(t)
	// No metadata, unknown customer: the owner can never be resolved, so the
	// delivery is acknowledged instead of provoking retries.
	payload := `{
		"id": "evt_orphan",
		"type": "customer.subscription.created",
		"data": {"object": {"id": "sub_orphan", "customer": "cus_unknown", "status": "active"}}
	}`

	status, body := postWebhook(t, app, payload, stripeSignature(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "ignored")
	assert.Empty(t, repo.subs)
	assert.Contains(t, repo.processed[1], "resolved")
}

func TestHandleStripeWebhookIgnoresUnhandledTypes(t *testing.T) {
	app, repo, _ := newWebhookTestApp(t)
	payload := `{"id": "evt_other", "type": "invoice.paid", "data": {"object": {"id": "in_1"}}}`

	status, body := postWebhook(t, app, payload, stripeSignature(payload, testWebhookSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "ignored")
	assert.Empty(t, repo.subs)
}

func TestHandleStripeWebhookFailedDeliveryIsReprocessedOnRetry(t *testing.T) {
	app, repo, gateway := newWebhookTestApp(t)
	payload := `{
		"id": "evt_checkout_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_1",
			"subscription": "sub_1",
			"metadata": {"user_id": "7"}
		}}
	}`
	signature := stripeSignature(payload, testWebhookSecret)

	// First delivery fails: the subscription cannot be fetched.
	status, _ := postWebhook(t, app, payload, signature)
	require.Equal(t, fiber.StatusInternalServerError, status)
	assert.Empty(t, repo.subs)
	assert.NotEmpty(t, repo.processed[1])

	// The processor retries with the same event id; the failed delivery must
	// be reprocessed, not swallowed as a duplicate.
	gateway.subs["sub_1"] = &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		Metadata: map[string]string{},
	}
	status, body := postWebhook(t, app, payload, signature)
	assert.Equal(t, fiber.StatusOK, status)
	assert.NotContains(t, body, "duplicate")

	require.Contains(t, repo.subs, "sub_1")
	assert.Equal(t, uint(7), repo.subs["sub_1"].UserID)
	assert.Len(t, repo.events, 1)
	assert.Equal(t, "", repo.processed[1])
}
