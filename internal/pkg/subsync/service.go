package subsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/refloop/refloop/app/models"
	"github.com/refloop/refloop/internal/pkg/payments"
	"gorm.io/gorm"
)

// ErrOwnerUnresolved marks a subscription whose local user could not be
// determined through any fallback. Such events are logged and dropped: the
// processor retrying a delivery this code can never resolve is pointless.
var ErrOwnerUnresolved = errors.New("subscription owner could not be resolved")

// maxSweepErrors caps the error sample reported by a bulk sweep.
const maxSweepErrors = 20

// sweepStatuses are the processor-side statuses replayed by the bulk sweep,
// listed separately per status.
var sweepStatuses = []string{
	models.SubscriptionStatusActive,
	models.SubscriptionStatusTrialing,
	models.SubscriptionStatusPastDue,
}

// SubscriptionGateway is the slice of the payment processor the
// synchronizer needs.
type SubscriptionGateway interface {
	GetSubscription(ctx context.Context, id string) (*payments.Subscription, error)
	GetCustomer(ctx context.Context, id string) (*payments.Customer, error)
	ListSubscriptions(ctx context.Context, status, startingAfter string, limit int) ([]payments.Subscription, bool, error)
}

// ReferralCompleter is the coupling point between billing and referrals: a
// completed checkout may complete the subscriber's pending referral.
type ReferralCompleter interface {
	CompleteOnSubscription(ctx context.Context, referredUserID uint) error
}

// SweepResult reports a best-effort bulk reconciliation: counts plus a
// truncated error sample. Partial success is accepted by design.
type SweepResult struct {
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

// Service reconciles processor subscription objects into local storage and
// triggers referral completion as a side effect of completed checkouts.
type Service struct {
	repo      Repository
	gateway   SubscriptionGateway
	referrals ReferralCompleter
}

// NewService creates a synchronizer from injected dependencies. referrals
// may be nil when referral completion is not wired (e.g. sweep-only use).
func NewService(repo Repository, gateway SubscriptionGateway, referrals ReferralCompleter) *Service {
	return &Service{repo: repo, gateway: gateway, referrals: referrals}
}

// NewServiceFromDB creates a synchronizer from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, gateway SubscriptionGateway, referrals ReferralCompleter) *Service {
	return NewService(NewRepository(db), gateway, referrals)
}

// SyncSubscription resolves the owning user and upserts the local mirror
// row. Returns the resolved user id, or ErrOwnerUnresolved when no fallback
// produced one.
func (s *Service) SyncSubscription(ctx context.Context, sub *payments.Subscription) (uint, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		return 0, errors.New("subscription id is required")
	}

	userID, err := s.resolveOwner(ctx, sub)
	if err != nil {
		return 0, err
	}
	if userID == 0 {
		return 0, fmt.Errorf("subscription %s: %w", sub.ID, ErrOwnerUnresolved)
	}

	row := &models.Subscription{
		ID:                 sub.ID,
		UserID:             userID,
		StripeCustomerID:   sub.CustomerID,
		StripePriceID:      sub.PriceID,
		Status:             MapSubscriptionStatus(sub.Status),
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.PriceID != "" {
		plan := sub.PriceID
		row.PlanID = &plan
	}
	if err := s.repo.UpsertSubscription(row); err != nil {
		return 0, fmt.Errorf("upserting subscription %s: %w", sub.ID, err)
	}
	return userID, nil
}

// HandleSubscriptionEvent processes customer.subscription.* webhook events.
func (s *Service) HandleSubscriptionEvent(ctx context.Context, sub *payments.Subscription) error {
	_, err := s.SyncSubscription(ctx, sub)
	return err
}

// HandleCheckoutCompleted processes checkout.session.completed: fetch the
// created subscription, sync it, then complete the subscriber's pending
// referral. This is the sole trigger coupling billing to referrals.
func (s *Service) HandleCheckoutCompleted(ctx context.Context, session *payments.CheckoutSession) error {
	if session == nil {
		return errors.New("checkout session is required")
	}
	if session.SubscriptionID == "" {
		// One-time payments carry no subscription to mirror.
		log.Printf("checkout session %s completed without a subscription, skipping sync", session.ID)
		return nil
	}

	sub, err := s.gateway.GetSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return fmt.Errorf("fetching subscription %s: %w", session.SubscriptionID, err)
	}
	// The session metadata is the most direct ownership signal for a fresh
	// checkout. Subscriptions routinely arrive with an empty (non-nil)
	// metadata map, so fall back whenever the user id itself is absent.
	if sub.Metadata[payments.MetadataUserIDKey] == "" && session.Metadata != nil {
		sub.Metadata = session.Metadata
	}

	userID, err := s.SyncSubscription(ctx, sub)
	if err != nil {
		return err
	}

	if s.referrals != nil {
		if err := s.referrals.CompleteOnSubscription(ctx, userID); err != nil {
			// Referral completion failing must not fail the billing sync.
			log.Printf("completing referral for user %d failed: %v", userID, err)
		}
	}
	return nil
}

// SweepAll replays the processor's subscription list and re-syncs each row.
// Per-subscription failures are isolated and accumulated; the sweep itself
// never aborts early.
func (s *Service) SweepAll(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	for _, status := range sweepStatuses {
		startingAfter := ""
		for {
			subs, hasMore, err := s.gateway.ListSubscriptions(ctx, status, startingAfter, 100)
			if err != nil {
				return nil, fmt.Errorf("listing %s subscriptions: %w", status, err)
			}
			for i := range subs {
				sub := &subs[i]
				if _, err := s.SyncSubscription(ctx, sub); err != nil {
					result.Failed++
					if len(result.Errors) < maxSweepErrors {
						result.Errors = append(result.Errors, err.Error())
					}
					log.Printf("sweep: syncing subscription %s failed: %v", sub.ID, err)
					continue
				}
				result.Synced++
			}
			if !hasMore || len(subs) == 0 {
				break
			}
			startingAfter = subs[len(subs)-1].ID
		}
	}
	return result, nil
}

// resolveOwner maps a processor subscription onto a local user id via a
// strict priority chain: subscription metadata, customer metadata, existing
// local row for the customer, customer email against the profile store.
// Returns 0 when nothing resolves.
func (s *Service) resolveOwner(ctx context.Context, sub *payments.Subscription) (uint, error) {
	if id := parseUserID(sub.Metadata[payments.MetadataUserIDKey]); id != 0 {
		return id, nil
	}

	if sub.CustomerID == "" {
		return 0, nil
	}

	customer, err := s.gateway.GetCustomer(ctx, sub.CustomerID)
	if err != nil {
		return 0, fmt.Errorf("fetching customer %s: %w", sub.CustomerID, err)
	}
	if id := parseUserID(customer.Metadata[payments.MetadataUserIDKey]); id != 0 {
		return id, nil
	}

	id, err := s.repo.GetUserIDByCustomerID(sub.CustomerID)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	if customer.Email != "" {
		id, err = s.repo.GetUserIDByEmail(customer.Email)
		if err != nil {
			return 0, err
		}
		if id != 0 {
			return id, nil
		}
	}
	return 0, nil
}

// RecordWebhookEvent persists webhook payloads idempotently; a false return
// means the event id was already seen. Payloads without a usable event id
// are deduplicated by content hash instead.
func (s *Service) RecordWebhookEvent(eventID, eventType, payloadJSON string, signatureValid bool) (bool, *models.WebhookEvent, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(payloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}
	event := &models.WebhookEvent{
		Provider:        models.PaymentProviderStripe,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(eventType),
		PayloadJSON:     payloadJSON,
		SignatureValid:  signatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional
// error.
func (s *Service) MarkWebhookProcessed(webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook event id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

func parseUserID(raw string) uint {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
