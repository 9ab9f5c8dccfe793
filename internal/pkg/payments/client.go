package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultAPIBaseURL = "https://api.stripe.com/v1"

// Config carries the processor credentials read once at process start.
type Config struct {
	SecretKey     string
	WebhookSecret string
	APIBaseURL    string
}

// Client is an explicitly constructed Stripe REST client. It is injected
// into the components that need it; there is no ambient global instance.
type Client struct {
	secretKey  string
	apiBaseURL string

	HTTPClient *http.Client
}

// NewClient builds a client from validated configuration.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("payments: secret key is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = defaultAPIBaseURL
	}
	return &Client{
		secretKey:  cfg.SecretKey,
		apiBaseURL: base,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// GetSubscription fetches a single subscription by its processor id.
func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("payments: subscription id is required")
	}
	body, err := c.do(ctx, http.MethodGet, "/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return parseSubscription(body)
}

// GetCustomer fetches a single customer by its processor id.
func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("payments: customer id is required")
	}
	body, err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return parseCustomer(body)
}

// SearchCustomerByUserID looks up a customer tagged with the given internal
// user id in metadata. Returns nil when none matches.
func (c *Client) SearchCustomerByUserID(ctx context.Context, userID uint) (*Customer, error) {
	q := url.Values{}
	q.Set("query", fmt.Sprintf("metadata['%s']:'%d'", MetadataUserIDKey, userID))
	q.Set("limit", "1")

	body, err := c.do(ctx, http.MethodGet, "/customers/search?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var list struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("payments: decode customer search: %w", err)
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return parseCustomer(list.Data[0])
}

// CreateCustomer creates a processor customer tagged with metadata.
func (c *Client) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	form := url.Values{}
	if email = strings.TrimSpace(email); email != "" {
		form.Set("email", email)
	}
	if name = strings.TrimSpace(name); name != "" {
		form.Set("name", name)
	}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	body, err := c.do(ctx, http.MethodPost, "/customers", form)
	if err != nil {
		return nil, err
	}
	return parseCustomer(body)
}

// CreateBalanceTransaction records a signed adjustment on a customer's
// balance. Negative amounts credit the customer on future invoices. The call
// carries an idempotency key so a retried request cannot double-post.
func (c *Client) CreateBalanceTransaction(ctx context.Context, customerID string, amountCents int64, description string, metadata map[string]string) (*BalanceTransaction, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, errors.New("payments: customer id is required")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", "usd")
	if description = strings.TrimSpace(description); description != "" {
		form.Set("description", description)
	}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	path := "/customers/" + url.PathEscape(customerID) + "/balance_transactions"
	body, err := c.doWithIdempotencyKey(ctx, http.MethodPost, path, form, uuid.NewString())
	if err != nil {
		return nil, err
	}

	var out struct {
		ID       string `json:"id"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("payments: decode balance transaction: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("payments: balance transaction response missing id")
	}
	return &BalanceTransaction{ID: out.ID, Amount: out.Amount, Currency: out.Currency}, nil
}

// ListSubscriptions returns one page of subscriptions filtered by status.
// Pass the last seen subscription id as startingAfter to fetch the next page.
func (c *Client) ListSubscriptions(ctx context.Context, status, startingAfter string, limit int) ([]Subscription, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	q := url.Values{}
	if status = strings.TrimSpace(status); status != "" {
		q.Set("status", status)
	}
	if startingAfter = strings.TrimSpace(startingAfter); startingAfter != "" {
		q.Set("starting_after", startingAfter)
	}
	q.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, http.MethodGet, "/subscriptions?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}

	var list struct {
		Data    []json.RawMessage `json:"data"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, false, fmt.Errorf("payments: decode subscription list: %w", err)
	}

	subs := make([]Subscription, 0, len(list.Data))
	for _, raw := range list.Data {
		sub, err := parseSubscription(raw)
		if err != nil {
			return nil, false, err
		}
		subs = append(subs, *sub)
	}
	return subs, list.HasMore, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	return c.doWithIdempotencyKey(ctx, method, path, form, "")
}

func (c *Client) doWithIdempotencyKey(ctx context.Context, method, path string, form url.Values, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("payments: %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}
