// Package notify delivers subscription lifecycle notifications to the
// internal notification service. Delivery is fire-and-forget from the
// caller's perspective: the dispatcher retries connection-level failures a
// bounded number of times and reports the final outcome as an error.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Category identifies the kind of lifecycle notification to send.
type Category string

const (
	CategoryNew                   Category = "new"
	CategoryRenewed               Category = "renewed"
	CategoryCancelled             Category = "cancelled"
	CategoryPaymentFailed         Category = "payment_failed"
	CategoryCancellationScheduled Category = "cancellation_scheduled"
	CategoryReactivated           Category = "reactivated"
	CategoryUpdated               Category = "updated"
	CategoryEnded                 Category = "ended"
	CategoryExpiringSoon          Category = "expiring_soon"
)

// categoryPaths maps each category to its notification service endpoint.
// Terminal lifecycle states share the cancelled endpoint.
var categoryPaths = map[Category]string{
	CategoryNew:                   "/notifications/subscription/start",
	CategoryRenewed:               "/notifications/subscription/renewed",
	CategoryCancelled:             "/notifications/subscription/cancelled",
	CategoryCancellationScheduled: "/notifications/subscription/cancelled",
	CategoryEnded:                 "/notifications/subscription/cancelled",
	CategoryPaymentFailed:         "/notifications/subscription/payment-failed",
	CategoryReactivated:           "/notifications/subscription/reactivated",
	CategoryUpdated:               "/notifications/subscription/updated",
	CategoryExpiringSoon:          "/notifications/subscription/expiring-soon",
}

var (
	// ErrInvalidRecipient is returned for an empty or malformed email. Not retried.
	ErrInvalidRecipient = errors.New("notify: invalid recipient email")

	// ErrUnknownCategory is returned for a category outside the known set. Not retried.
	ErrUnknownCategory = errors.New("notify: unknown notification category")
)

// RetryPolicy bounds delivery attempts for connection-level failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of delivery attempts, including the first.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
}

// DefaultRetryPolicy retries twice after the initial attempt, waiting 1s
// then 2s.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// InvoiceData describes a paid invoice for receipt notifications.
type InvoiceData struct {
	InvoiceID        string  `json:"invoiceId"`
	AmountPaid       float64 `json:"amountPaid"`
	Currency         string  `json:"currency"`
	HostedInvoiceURL string  `json:"hostedInvoiceUrl,omitempty"`
}

// Dispatcher sends notifications over HTTP. It holds no state between calls.
type Dispatcher struct {
	baseURL string
	client  *http.Client
	policy  RetryPolicy
	logger  *slog.Logger
}

func NewDispatcher(baseURL string, timeout time.Duration, policy RetryPolicy, logger *slog.Logger) *Dispatcher {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if policy.MaxAttempts < 1 {
		policy = DefaultRetryPolicy
	}
	return &Dispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		logger:  logger,
	}
}

// Send delivers a lifecycle notification for the given recipient. The data
// map is forwarded to the notification service unchanged.
func (d *Dispatcher) Send(ctx context.Context, email string, category Category, data map[string]interface{}) error {
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, email)
	}

	path, ok := categoryPaths[category]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	payload := map[string]interface{}{"email": email}
	if category == CategoryPaymentFailed {
		payload["paymentData"] = data
	} else {
		payload["subscriptionData"] = data
	}

	return d.post(ctx, path, payload, string(category))
}

// SendInvoiceReceipt delivers an invoice receipt notification.
func (d *Dispatcher) SendInvoiceReceipt(ctx context.Context, to string, invoice InvoiceData) error {
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, to)
	}

	payload := map[string]interface{}{
		"to":          to,
		"invoiceData": invoice,
	}

	return d.post(ctx, "/notifications/invoice", payload, "invoice")
}

// post delivers the payload with a bounded retry loop. Only connection-level
// failures are retried; a response from the service settles the attempt.
func (d *Dispatcher) post(ctx context.Context, path string, payload interface{}, kind string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: failed to encode %s payload: %w", kind, err)
	}

	delay := d.policy.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.logger.Warn("retrying notification delivery",
				"kind", kind,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr,
			)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("notify: delivery cancelled: %w", ctx.Err())
			case <-timer.C:
			}
			delay *= 2
		}

		lastErr = d.attempt(ctx, path, body)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("notify: delivery failed after %d attempts: %w", d.policy.MaxAttempts, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify: notification service returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// isRetryable reports whether err is a connection-level failure (refused,
// reset, DNS, timeout). Status-code failures are the service answering and
// are never retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
