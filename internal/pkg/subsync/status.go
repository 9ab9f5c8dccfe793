package subsync

import (
	"strings"

	"github.com/refloop/refloop/app/models"
)

// MapSubscriptionStatus reconciles the processor's subscription status
// vocabulary onto the local closed enum. Unrecognized or absent statuses
// default to incomplete rather than guessing an entitling state.
func MapSubscriptionStatus(providerStatus string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active":
		return models.SubscriptionStatusActive
	case "trialing":
		return models.SubscriptionStatusTrialing
	case "past_due":
		return models.SubscriptionStatusPastDue
	case "canceled", "cancelled":
		return models.SubscriptionStatusCanceled
	case "unpaid":
		return models.SubscriptionStatusUnpaid
	case "paused":
		return models.SubscriptionStatusPaused
	case "incomplete", "incomplete_expired":
		return models.SubscriptionStatusIncomplete
	default:
		return models.SubscriptionStatusIncomplete
	}
}
