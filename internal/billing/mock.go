package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a mock billing provider for testing.
// Simulates successful billing flows without calling the Stripe API.
type MockProvider struct {
	// CreateCustomerFunc allows customizing customer creation behavior
	CreateCustomerFunc func(ctx context.Context, params CreateCustomerParams) (*Customer, error)

	// GetCustomerFunc allows customizing customer retrieval behavior
	GetCustomerFunc func(ctx context.Context, customerID string) (*Customer, error)

	// GetCustomerByEmailFunc allows customizing customer lookup behavior
	GetCustomerByEmailFunc func(ctx context.Context, email string) (*Customer, error)

	// CreateCheckoutSessionFunc allows customizing checkout session creation
	CreateCheckoutSessionFunc func(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// GetSubscriptionFunc allows customizing subscription retrieval behavior
	GetSubscriptionFunc func(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscriptionFunc allows customizing subscription cancellation behavior
	CancelSubscriptionFunc func(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetInvoiceFunc allows customizing invoice retrieval behavior
	GetInvoiceFunc func(ctx context.Context, invoiceID string) (*Invoice, error)

	// ListPlansFunc allows customizing plan listing behavior
	ListPlansFunc func(ctx context.Context) ([]Plan, error)

	// Customers stores created customers for retrieval
	Customers map[string]*Customer

	// Subscriptions stores subscriptions for retrieval
	Subscriptions map[string]*Subscription

	// CallLog tracks method calls for test assertions
	CallLog []string
}

// NewMockProvider creates a new mock billing provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Customers:     make(map[string]*Customer),
		Subscriptions: make(map[string]*Subscription),
		CallLog:       []string{},
	}
}

// CreateCustomer creates a mock customer.
func (m *MockProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCustomer(%s)", params.Email))

	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, params)
	}

	customer := &Customer{
		ID:        "cus_" + uuid.New().String()[:8],
		Email:     params.Email,
		Name:      params.Name,
		CreatedAt: time.Now(),
	}

	m.Customers[customer.ID] = customer
	return customer, nil
}

// GetCustomer retrieves a mock customer.
func (m *MockProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCustomer(%s)", customerID))

	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, customerID)
	}

	customer, exists := m.Customers[customerID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
	}
	return customer, nil
}

// GetCustomerByEmail searches for a mock customer by email.
func (m *MockProvider) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetCustomerByEmail(%s)", email))

	if m.GetCustomerByEmailFunc != nil {
		return m.GetCustomerByEmailFunc(ctx, email)
	}

	for _, customer := range m.Customers {
		if customer.Email == email {
			return customer, nil
		}
	}
	return nil, nil // Not found
}

// CreateCheckoutSession creates a mock checkout session.
func (m *MockProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CreateCheckoutSession(%s, %s)", params.CustomerID, params.PriceID))

	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, params)
	}

	id := "cs_test_" + uuid.New().String()[:8]
	return &CheckoutSession{
		ID:         id,
		URL:        "https://checkout.stripe.com/c/pay/" + id,
		CustomerID: params.CustomerID,
	}, nil
}

// GetSubscription retrieves a mock subscription.
func (m *MockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetSubscription(%s)", subscriptionID))

	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, subscriptionID)
	}

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	return sub, nil
}

// CancelSubscription flags a mock subscription to cancel at period end.
func (m *MockProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("CancelSubscription(%s)", subscriptionID))

	if m.CancelSubscriptionFunc != nil {
		return m.CancelSubscriptionFunc(ctx, subscriptionID)
	}

	sub, exists := m.Subscriptions[subscriptionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
	}
	sub.CancelAtPeriodEnd = true
	return sub, nil
}

// GetInvoice retrieves a mock invoice.
func (m *MockProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	m.CallLog = append(m.CallLog, fmt.Sprintf("GetInvoice(%s)", invoiceID))

	if m.GetInvoiceFunc != nil {
		return m.GetInvoiceFunc(ctx, invoiceID)
	}

	return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
}

// ListPlans returns the configured mock plans.
func (m *MockProvider) ListPlans(ctx context.Context) ([]Plan, error) {
	m.CallLog = append(m.CallLog, "ListPlans")

	if m.ListPlansFunc != nil {
		return m.ListPlansFunc(ctx)
	}

	return []Plan{
		{ID: "price_monthly", ProductID: "prod_basic", Name: "Basic Monthly", AmountCents: 999, Currency: "usd", Interval: "month", IntervalCount: 1},
		{ID: "price_yearly", ProductID: "prod_basic", Name: "Basic Yearly", AmountCents: 9999, Currency: "usd", Interval: "year", IntervalCount: 1},
	}, nil
}

// SimulateActiveSubscription seeds a subscription in active status.
// Used in tests to set up state before processing webhook events.
func (m *MockProvider) SimulateActiveSubscription(subscriptionID, customerID string, periodEnd time.Time) *Subscription {
	sub := &Subscription{
		ID:                 subscriptionID,
		CustomerID:         customerID,
		Status:             "active",
		CurrentPeriodStart: periodEnd.AddDate(0, -1, 0),
		CurrentPeriodEnd:   periodEnd,
		AmountCents:        999,
		Currency:           "usd",
		Interval:           "month",
		CreatedAt:          time.Now(),
	}
	m.Subscriptions[subscriptionID] = sub
	return sub
}
