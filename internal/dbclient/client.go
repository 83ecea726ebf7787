// Package dbclient is a typed HTTP client for the internal user/subscription
// database service. All persistent state lives behind that service; this
// package only shapes requests and maps downstream statuses onto domain
// error codes. No retries here: callers decide what survives a failure.
package dbclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/heimdall/internal/domain"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// UserSubscriptionUpdate is the body of PUT /users/subscription/{email}.
// Nil pointer fields are omitted so the database service keeps prior values.
type UserSubscriptionUpdate struct {
	IsSubscribed         bool       `json:"isSubscribed"`
	StripeSubscriptionID *string    `json:"stripeSubscriptionId,omitempty"`
	SubscriptionEndDate  *time.Time `json:"subscriptionEndDate,omitempty"`
}

// SubscriptionPatch is the body of PATCH /subscriptions/{id}.
// Only non-nil fields are sent.
type SubscriptionPatch struct {
	Status    *string    `json:"status,omitempty"`
	IsActive  *bool      `json:"isActive,omitempty"`
	AutoRenew *bool      `json:"autoRenew,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// GetUser retrieves a user record by internal id.
func (c *Client) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &user,
		"dbclient.GetUser", "user", id)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user record by email address.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(email), nil, &user,
		"dbclient.GetUserByEmail", "user", email)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserSubscription updates the subscription projection on a user record.
func (c *Client) UpdateUserSubscription(ctx context.Context, email string, params UserSubscriptionUpdate) error {
	return c.do(ctx, http.MethodPut, "/users/subscription/"+url.PathEscape(email), params, nil,
		"dbclient.UpdateUserSubscription", "user", email)
}

// CreateSubscription creates a subscription record and returns the stored
// record including its assigned id.
func (c *Client) CreateSubscription(ctx context.Context, record domain.Subscription) (*domain.Subscription, error) {
	var created domain.Subscription
	err := c.do(ctx, http.MethodPost, "/subscriptions", record, &created,
		"dbclient.CreateSubscription", "subscription", record.StripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateSubscription applies a partial update to a subscription record by
// internal id.
func (c *Client) UpdateSubscription(ctx context.Context, id string, patch SubscriptionPatch) error {
	return c.do(ctx, http.MethodPatch, "/subscriptions/"+url.PathEscape(id), patch, nil,
		"dbclient.UpdateSubscription", "subscription", id)
}

// GetSubscriptionByStripeID retrieves a subscription record by its Stripe
// subscription id.
func (c *Client) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := c.do(ctx, http.MethodGet, "/subscriptions/stripe/"+url.PathEscape(stripeSubID), nil, &sub,
		"dbclient.GetSubscriptionByStripeID", "subscription", stripeSubID)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// do executes one request against the database service. A 404 becomes
// domain.ENOTFOUND, transport failures become domain.EUNAVAILABLE, and any
// other non-2xx status becomes a wrapped error carrying the status code.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, op, resource, identifier string) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return domain.Internal(err, op, "failed to encode request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return domain.Internal(err, op, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Unavailable(err, op, "database service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.NotFound(op, resource, identifier)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("database service returned error status",
			"op", op,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return domain.Unavailable(
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)),
			op, "database service request failed")
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.Internal(err, op, "failed to decode response body")
		}
	}
	return nil
}
