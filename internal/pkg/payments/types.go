package payments

import "time"

// MetadataUserIDKey is the customer/subscription metadata field carrying the
// internal user id.
const MetadataUserIDKey = "user_id"

// Subscription is the stable internal shape extracted from the processor's
// subscription objects. Only the fields the sync core needs are kept, so
// vendor schema churn stays confined to the parsing layer.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

// Customer is the minimal processor customer view used by the credit ledger
// and the ownership resolution chain.
type Customer struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]string
}

// BalanceTransaction is a signed adjustment on a customer's processor
// balance. Negative amounts are credits in the processor's convention.
type BalanceTransaction struct {
	ID       string
	Amount   int64
	Currency string
}

// CheckoutSession is the slice of a completed checkout the webhook path
// needs: who paid and which subscription was created.
type CheckoutSession struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}
