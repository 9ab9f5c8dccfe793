package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Webhook event types the sync core reacts to. Everything else is recorded
// and ignored.
const (
	EventCheckoutSessionCompleted  = "checkout.session.completed"
	EventCustomerSubscriptionAdded = "customer.subscription.created"
	EventCustomerSubscriptionSync  = "customer.subscription.updated"
	EventCustomerSubscriptionGone  = "customer.subscription.deleted"
)

// Event is the validated envelope of a processor webhook delivery. Exactly
// one of Subscription / CheckoutSession is populated depending on Type.
type Event struct {
	ID   string
	Type string

	Subscription    *Subscription
	CheckoutSession *CheckoutSession
}

// IsSubscriptionEvent reports whether the event carries a subscription
// object as its payload.
func (e *Event) IsSubscriptionEvent() bool {
	switch e.Type {
	case EventCustomerSubscriptionAdded, EventCustomerSubscriptionSync, EventCustomerSubscriptionGone:
		return true
	default:
		return false
	}
}

// ParseWebhookEvent validates the raw webhook payload and extracts only the
// fields the sync core needs into stable internal types. Vendor API-version
// differences (expanded vs. id-only references, renamed period fields) are
// absorbed here.
func ParseWebhookEvent(payload []byte) (*Event, error) {
	var raw struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("payments: decode event envelope: %w", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("payments: event missing id")
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, errors.New("payments: event missing type")
	}

	ev := &Event{ID: raw.ID, Type: raw.Type}
	switch {
	case ev.Type == EventCheckoutSessionCompleted:
		session, err := parseCheckoutSession(raw.Data.Object)
		if err != nil {
			return nil, err
		}
		ev.CheckoutSession = session
	case ev.IsSubscriptionEvent():
		sub, err := parseSubscription(raw.Data.Object)
		if err != nil {
			return nil, err
		}
		ev.Subscription = sub
	}
	return ev, nil
}

func parseSubscription(data []byte) (*Subscription, error) {
	var raw struct {
		ID       string          `json:"id"`
		Customer json.RawMessage `json:"customer"`
		Status   string          `json:"status"`
		Items    struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
				// Newer API versions moved the billing period onto the item.
				CurrentPeriodStart int64 `json:"current_period_start"`
				CurrentPeriodEnd   int64 `json:"current_period_end"`
			} `json:"data"`
		} `json:"items"`
		CurrentPeriodStart int64             `json:"current_period_start"`
		CurrentPeriodEnd   int64             `json:"current_period_end"`
		CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
		Metadata           map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("payments: decode subscription: %w", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("payments: subscription missing id")
	}

	sub := &Subscription{
		ID:                raw.ID,
		CustomerID:        objectRef(raw.Customer),
		Status:            strings.TrimSpace(raw.Status),
		CancelAtPeriodEnd: raw.CancelAtPeriodEnd,
		Metadata:          raw.Metadata,
	}

	periodStart := raw.CurrentPeriodStart
	periodEnd := raw.CurrentPeriodEnd
	if len(raw.Items.Data) > 0 {
		item := raw.Items.Data[0]
		sub.PriceID = strings.TrimSpace(item.Price.ID)
		if periodStart == 0 {
			periodStart = item.CurrentPeriodStart
		}
		if periodEnd == 0 {
			periodEnd = item.CurrentPeriodEnd
		}
	}
	sub.CurrentPeriodStart = unixTime(periodStart)
	sub.CurrentPeriodEnd = unixTime(periodEnd)

	return sub, nil
}

func parseCustomer(data []byte) (*Customer, error) {
	var raw struct {
		ID       string            `json:"id"`
		Email    string            `json:"email"`
		Name     string            `json:"name"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("payments: decode customer: %w", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("payments: customer missing id")
	}
	return &Customer{
		ID:       raw.ID,
		Email:    strings.TrimSpace(raw.Email),
		Name:     strings.TrimSpace(raw.Name),
		Metadata: raw.Metadata,
	}, nil
}

func parseCheckoutSession(data []byte) (*CheckoutSession, error) {
	var raw struct {
		ID           string            `json:"id"`
		Customer     json.RawMessage   `json:"customer"`
		Subscription json.RawMessage   `json:"subscription"`
		Metadata     map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("payments: decode checkout session: %w", err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("payments: checkout session missing id")
	}
	return &CheckoutSession{
		ID:             raw.ID,
		CustomerID:     objectRef(raw.Customer),
		SubscriptionID: objectRef(raw.Subscription),
		Metadata:       raw.Metadata,
	}, nil
}

// objectRef extracts an object reference that may be delivered either as a
// bare id string or as an expanded object with an "id" field.
func objectRef(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
