package billing

import (
	"context"
	"time"
)

// Provider defines the interface for the payment provider.
// Implementations can use Stripe, Paddle, etc.
type Provider interface {
	// CreateCustomer creates a customer record in the billing provider.
	CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomer retrieves an existing customer.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// GetCustomerByEmail searches for an existing customer by email.
	// Returns nil, nil if no customer found (not an error).
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)

	// CreateCheckoutSession creates a hosted checkout session in
	// subscription mode for the given price.
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// GetSubscription retrieves a subscription by provider id.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription flags a subscription to cancel at period end and
	// returns the updated subscription.
	CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetInvoice retrieves an invoice by provider id.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// ListPlans returns the active recurring prices available for purchase.
	ListPlans(ctx context.Context) ([]Plan, error)
}

// WebhookVerifier authenticates and decodes a raw webhook request body.
// The production implementation checks the provider signature; an insecure
// implementation that skips the check exists for local development.
type WebhookVerifier interface {
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// CreateCustomerParams contains parameters for creating a customer.
type CreateCustomerParams struct {
	Email       string
	Name        string
	Description string
	Metadata    map[string]string
}

// Customer represents a billing customer.
type Customer struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
}

// CreateCheckoutSessionParams contains parameters for creating a checkout
// session. CustomerID is required; the price determines plan and interval.
type CreateCheckoutSessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession represents a hosted checkout session.
type CheckoutSession struct {
	ID         string
	URL        string
	CustomerID string
}

// Subscription represents a provider-side recurring subscription.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string // "active", "past_due", "canceled", "incomplete", etc.
	PriceID            string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CanceledAt         *time.Time
	AmountCents        int64
	Currency           string
	Interval           string // "month" or "year"
	Metadata           map[string]string
	CreatedAt          time.Time
}

// Invoice represents a provider-side invoice.
type Invoice struct {
	ID               string
	CustomerID       string
	CustomerEmail    string
	SubscriptionID   string
	Status           string
	AmountDueCents   int64
	AmountPaidCents  int64
	Currency         string
	HostedInvoiceURL string
	CreatedAt        time.Time
}

// Plan represents a purchasable recurring price.
type Plan struct {
	ID            string
	ProductID     string
	Name          string
	Description   string
	AmountCents   int64
	Currency      string
	Interval      string
	IntervalCount int64
}
