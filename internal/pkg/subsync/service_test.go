package subsync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refloop/refloop/app/models"
	"github.com/refloop/refloop/internal/pkg/payments"
)

type fakeSyncRepo struct {
	subs            map[string]*models.Subscription
	usersByCustomer map[string]uint
	usersByEmail    map[string]uint

	events      map[string]*models.WebhookEvent
	nextEventID uint
	processed   map[uint]string
}

func newFakeSyncRepo() *fakeSyncRepo {
	return &fakeSyncRepo{
		subs:            map[string]*models.Subscription{},
		usersByCustomer: map[string]uint{},
		usersByEmail:    map[string]uint{},
		events:          map[string]*models.WebhookEvent{},
		processed:       map[uint]string{},
	}
}

func (r *fakeSyncRepo) UpsertSubscription(sub *models.Subscription) error {
	stored := *sub
	r.subs[sub.ID] = &stored
	return nil
}

func (r *fakeSyncRepo) GetUserIDByCustomerID(customerID string) (uint, error) {
	return r.usersByCustomer[customerID], nil
}

func (r *fakeSyncRepo) GetUserIDByEmail(email string) (uint, error) {
	return r.usersByEmail[email], nil
}

func (r *fakeSyncRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "/" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		return false, existing, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	stored := *event
	r.events[key] = &stored
	return true, &stored, nil
}

func (r *fakeSyncRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.processed[id] = processingError
	return nil
}

type fakeSubGateway struct {
	subs      map[string]*payments.Subscription
	getSubErr error

	customers     map[string]*payments.Customer
	customerCalls int

	// pages[status] holds the pages returned in order; the cursor maps the
	// last id of page n to page n+1.
	pages   map[string][][]payments.Subscription
	listErr map[string]error
}

func newFakeSubGateway() *fakeSubGateway {
	return &fakeSubGateway{
		subs:      map[string]*payments.Subscription{},
		customers: map[string]*payments.Customer{},
		pages:     map[string][][]payments.Subscription{},
		listErr:   map[string]error{},
	}
}

func (g *fakeSubGateway) GetSubscription(_ context.Context, id string) (*payments.Subscription, error) {
	if g.getSubErr != nil {
		return nil, g.getSubErr
	}
	if sub, ok := g.subs[id]; ok {
		out := *sub
		return &out, nil
	}
	return nil, fmt.Errorf("no such subscription %q", id)
}

func (g *fakeSubGateway) GetCustomer(_ context.Context, id string) (*payments.Customer, error) {
	g.customerCalls++
	if c, ok := g.customers[id]; ok {
		out := *c
		return &out, nil
	}
	return &payments.Customer{ID: id}, nil
}

func (g *fakeSubGateway) ListSubscriptions(_ context.Context, status, startingAfter string, _ int) ([]payments.Subscription, bool, error) {
	if err := g.listErr[status]; err != nil {
		return nil, false, err
	}
	pages := g.pages[status]
	if len(pages) == 0 {
		return nil, false, nil
	}
	idx := 0
	if startingAfter != "" {
		for i, page := range pages {
			if len(page) > 0 && page[len(page)-1].ID == startingAfter {
				idx = i + 1
				break
			}
		}
	}
	if idx >= len(pages) {
		return nil, false, nil
	}
	return pages[idx], idx < len(pages)-1, nil
}

type fakeCompleter struct {
	calls []uint
	err   error
}

func (c *fakeCompleter) CompleteOnSubscription(_ context.Context, referredUserID uint) error {
	c.calls = append(c.calls, referredUserID)
	return c.err
}

func newSyncService() (*Service, *fakeSyncRepo, *fakeSubGateway, *fakeCompleter) {
	repo := newFakeSyncRepo()
	gateway := newFakeSubGateway()
	completer := &fakeCompleter{}
	return NewService(repo, gateway, completer), repo, gateway, completer
}

func TestSyncSubscriptionMetadataWins(t *testing.T) {
	svc, repo, gateway, _ := newSyncService()
	// Lower-priority sources disagree on purpose.
	gateway.customers["cus_1"] = &payments.Customer{ID: "cus_1", Metadata: map[string]string{"user_id": "99"}}
	repo.usersByCustomer["cus_1"] = 98

	userID, err := svc.SyncSubscription(context.Background(), &payments.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     "active",
		Metadata:   map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(7), userID)
	// The highest-priority source resolving means no processor round trip.
	assert.Zero(t, gateway.customerCalls)

	row := repo.subs["sub_1"]
	require.NotNil(t, row)
	assert.Equal(t, uint(7), row.UserID)
	assert.Equal(t, models.SubscriptionStatusActive, row.Status)
}

func TestSyncSubscriptionCustomerMetadataFallback(t *testing.T) {
	svc, repo, gateway, _ := newSyncService()
	gateway.customers["cus_1"] = &payments.Customer{ID: "cus_1", Metadata: map[string]string{"user_id": "9"}}
	repo.usersByCustomer["cus_1"] = 98

	userID, err := svc.SyncSubscription(context.Background(), &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(9), userID)
}

func TestSyncSubscriptionLocalRowFallback(t *testing.T) {
	svc, repo, _, _ := newSyncService()
	repo.usersByCustomer["cus_1"] = 11

	userID, err := svc.SyncSubscription(context.Background(), &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(11), userID)
}

func TestSyncSubscriptionEmailFallback(t *testing.T) {
	svc, repo, gateway, _ := newSyncService()
	gateway.customers["cus_1"] = &payments.Customer{ID: "cus_1", Email: "ada@example.com"}
	repo.usersByEmail["ada@example.com"] = 13

	userID, err := svc.SyncSubscription(context.Background(), &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "trialing",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(13), userID)
}

func TestSyncSubscriptionUnresolvedOwner(t *testing.T) {
	svc, repo, _, _ := newSyncService()

	_, err := svc.SyncSubscription(context.Background(), &payments.Subscription{
		ID: "sub_orphan", CustomerID: "cus_unknown", Status: "active",
	})
	assert.ErrorIs(t, err, ErrOwnerUnresolved)
	assert.Empty(t, repo.subs)
}

func TestSyncSubscriptionGarbageMetadataFallsThrough(t *testing.T) {
	svc, repo, _, _ := newSyncService()
	repo.usersByCustomer["cus_1"] = 5

	userID, err := svc.SyncSubscription(context.Background(), &payments.Subscription{
		ID:         "sub_1",
		CustomerID: "cus_1",
		Status:     "active",
		Metadata:   map[string]string{"user_id": "not-a-number"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(5), userID)
}

func TestSyncSubscriptionUpsertConverges(t *testing.T) {
	svc, repo, _, _ := newSyncService()

	sub := &payments.Subscription{
		ID: "sub_1", Status: "trialing",
		Metadata: map[string]string{"user_id": "7"},
	}
	_, err := svc.SyncSubscription(context.Background(), sub)
	require.NoError(t, err)

	sub.Status = "active"
	sub.PriceID = "price_pro"
	_, err = svc.SyncSubscription(context.Background(), sub)
	require.NoError(t, err)

	require.Len(t, repo.subs, 1)
	row := repo.subs["sub_1"]
	assert.Equal(t, models.SubscriptionStatusActive, row.Status)
	assert.Equal(t, "price_pro", row.StripePriceID)
	require.NotNil(t, row.PlanID)
	assert.Equal(t, "price_pro", *row.PlanID)
}

func TestSyncSubscriptionRequiresID(t *testing.T) {
	svc, _, _, _ := newSyncService()
	_, err := svc.SyncSubscription(context.Background(), &payments.Subscription{})
	assert.Error(t, err)
	_, err = svc.SyncSubscription(context.Background(), nil)
	assert.Error(t, err)
}

func TestHandleCheckoutCompleted(t *testing.T) {
	svc, repo, gateway, completer := newSyncService()
	// The fetched subscription carries the usual empty (non-nil) metadata
	// map; the session's user id must still win through for resolution.
	gateway.subs["sub_1"] = &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		Metadata: map[string]string{},
	}

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutSession{
		ID:             "cs_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)

	require.Len(t, repo.subs, 1)
	assert.Equal(t, uint(7), repo.subs["sub_1"].UserID)
	assert.Equal(t, []uint{7}, completer.calls)
}

func TestHandleCheckoutCompletedSubscriptionMetadataWins(t *testing.T) {
	svc, repo, gateway, completer := newSyncService()
	gateway.subs["sub_1"] = &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		Metadata: map[string]string{"user_id": "3"},
	}

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutSession{
		ID:             "cs_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"user_id": "7"},
	})
	require.NoError(t, err)

	assert.Equal(t, uint(3), repo.subs["sub_1"].UserID)
	assert.Equal(t, []uint{3}, completer.calls)
}

func TestHandleCheckoutCompletedCompleterFailureIsIgnored(t *testing.T) {
	svc, repo, gateway, completer := newSyncService()
	gateway.subs["sub_1"] = &payments.Subscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		Metadata: map[string]string{"user_id": "7"},
	}
	completer.err = errors.New("referral store down")

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutSession{
		ID: "cs_1", SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Len(t, repo.subs, 1)
	assert.Len(t, completer.calls, 1)
}

func TestHandleCheckoutCompletedWithoutSubscription(t *testing.T) {
	svc, repo, _, completer := newSyncService()

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutSession{ID: "cs_onetime"})
	require.NoError(t, err)
	assert.Empty(t, repo.subs)
	assert.Empty(t, completer.calls)
}

func TestHandleCheckoutCompletedFetchFailure(t *testing.T) {
	svc, _, gateway, completer := newSyncService()
	gateway.getSubErr = errors.New("processor unavailable")

	err := svc.HandleCheckoutCompleted(context.Background(), &payments.CheckoutSession{
		ID: "cs_1", SubscriptionID: "sub_1",
	})
	assert.Error(t, err)
	assert.Empty(t, completer.calls)
}

func TestSweepAll(t *testing.T) {
	svc, repo, gateway, _ := newSyncService()

	resolvable := func(id string, user int) payments.Subscription {
		return payments.Subscription{
			ID: id, Status: "active",
			Metadata: map[string]string{"user_id": fmt.Sprint(user)},
		}
	}
	gateway.pages["active"] = [][]payments.Subscription{
		{resolvable("sub_1", 1), resolvable("sub_2", 2)},
		{resolvable("sub_3", 3), {ID: "sub_orphan", CustomerID: "cus_unknown", Status: "active"}},
	}
	gateway.pages["trialing"] = [][]payments.Subscription{
		{resolvable("sub_4", 4)},
	}

	result, err := svc.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, result.Synced)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "sub_orphan")
	assert.Len(t, repo.subs, 4)
}

func TestSweepAllCapsErrorSample(t *testing.T) {
	svc, _, gateway, _ := newSyncService()

	var orphans []payments.Subscription
	for i := 0; i < maxSweepErrors+5; i++ {
		orphans = append(orphans, payments.Subscription{
			ID: fmt.Sprintf("sub_orphan_%d", i), CustomerID: "cus_unknown", Status: "active",
		})
	}
	gateway.pages["active"] = [][]payments.Subscription{orphans}

	result, err := svc.SweepAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maxSweepErrors+5, result.Failed)
	assert.Len(t, result.Errors, maxSweepErrors)
}

func TestSweepAllListFailureAborts(t *testing.T) {
	svc, _, gateway, _ := newSyncService()
	gateway.listErr["trialing"] = errors.New("rate limited")
	gateway.pages["active"] = [][]payments.Subscription{
		{{ID: "sub_1", Status: "active", Metadata: map[string]string{"user_id": "1"}}},
	}

	_, err := svc.SweepAll(context.Background())
	assert.Error(t, err)
}

func TestRecordWebhookEventDeduplicates(t *testing.T) {
	svc, _, _, _ := newSyncService()

	created, event, err := svc.RecordWebhookEvent("evt_1", "customer.subscription.updated", `{"id":"evt_1"}`, true)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, event)

	created, dup, err := svc.RecordWebhookEvent("evt_1", "customer.subscription.updated", `{"id":"evt_1"}`, true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, event.ID, dup.ID)
}

func TestRecordWebhookEventHashFallback(t *testing.T) {
	svc, _, _, _ := newSyncService()

	created, event, err := svc.RecordWebhookEvent("", "invoice.paid", `{"some":"payload"}`, true)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Contains(t, event.ProviderEventID, "hash:")

	// The same payload without an id dedupes by content.
	created, _, err = svc.RecordWebhookEvent("", "invoice.paid", `{"some":"payload"}`, true)
	require.NoError(t, err)
	assert.False(t, created)

	created, _, err = svc.RecordWebhookEvent("", "invoice.paid", `{"some":"other payload"}`, true)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestMarkWebhookProcessed(t *testing.T) {
	svc, repo, _, _ := newSyncService()

	require.Error(t, svc.MarkWebhookProcessed(0, nil))

	require.NoError(t, svc.MarkWebhookProcessed(3, nil))
	assert.Equal(t, "", repo.processed[3])

	require.NoError(t, svc.MarkWebhookProcessed(4, errors.New("boom")))
	assert.Equal(t, "boom", repo.processed[4])
}
