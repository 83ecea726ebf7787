package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	stripecustomer "github.com/stripe/stripe-go/v83/customer"
	stripeinvoice "github.com/stripe/stripe-go/v83/invoice"
	stripeprice "github.com/stripe/stripe-go/v83/price"
	stripesubscription "github.com/stripe/stripe-go/v83/subscription"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/dukerupert/heimdall/internal/telemetry"
)

// StripeProvider implements Provider using the Stripe API.
type StripeProvider struct {
	config StripeConfig
}

// NewStripeProvider creates a new Stripe billing provider.
// Sets the package-level API key used by the stripe-go client.
func NewStripeProvider(config StripeConfig) (*StripeProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = 30
	}

	stripe.Key = config.APIKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: time.Duration(config.TimeoutSeconds) * time.Second},
		MaxNetworkRetries: stripe.Int64(int64(config.MaxRetries)),
	}))

	return &StripeProvider{config: config}, nil
}

// observeAPICall times a Stripe API call for the latency histogram.
// Usage: defer observeAPICall("create_customer")()
func observeAPICall(operation string) func() {
	start := time.Now()
	return func() {
		if telemetry.Business != nil {
			telemetry.Business.StripeAPILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		}
	}
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*Customer, error) {
	defer observeAPICall("create_customer")()

	customerParams := &stripe.CustomerParams{
		Email:       stripe.String(params.Email),
		Description: stripe.String(params.Description),
	}
	if params.Name != "" {
		customerParams.Name = stripe.String(params.Name)
	}
	for k, v := range params.Metadata {
		customerParams.AddMetadata(k, v)
	}
	customerParams.Context = ctx

	c, err := stripecustomer.New(customerParams)
	if err != nil {
		return nil, wrapStripeErr(err, "create customer")
	}

	return customerFromStripe(c), nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	defer observeAPICall("get_customer")()

	params := &stripe.CustomerParams{}
	params.Context = ctx

	c, err := stripecustomer.Get(customerID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
		return nil, wrapStripeErr(err, "get customer")
	}

	return customerFromStripe(c), nil
}

func (p *StripeProvider) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	defer observeAPICall("get_customer_by_email")()

	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Limit = stripe.Int64(1)
	params.Context = ctx

	iter := stripecustomer.List(params)
	for iter.Next() {
		return customerFromStripe(iter.Customer()), nil
	}
	if err := iter.Err(); err != nil {
		return nil, wrapStripeErr(err, "list customers")
	}

	// No customer with this email - not an error
	return nil, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	defer observeAPICall("create_checkout_session")()

	checkoutParams := &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(params.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(params.CancelURL),
	}
	if len(params.Metadata) > 0 {
		checkoutParams.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		}
	}
	checkoutParams.Context = ctx

	session, err := checkoutsession.New(checkoutParams)
	if err != nil {
		return nil, wrapStripeErr(err, "create checkout session")
	}

	result := &CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}
	if session.Customer != nil {
		result.CustomerID = session.Customer.ID
	}
	return result, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	defer observeAPICall("get_subscription")()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := stripesubscription.Get(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, wrapStripeErr(err, "get subscription")
	}

	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	defer observeAPICall("cancel_subscription")()

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	params.Context = ctx

	sub, err := stripesubscription.Update(subscriptionID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, wrapStripeErr(err, "cancel subscription")
	}

	return subscriptionFromStripe(sub), nil
}

func (p *StripeProvider) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	defer observeAPICall("get_invoice")()

	params := &stripe.InvoiceParams{}
	params.Context = ctx

	inv, err := stripeinvoice.Get(invoiceID, params)
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
		}
		return nil, wrapStripeErr(err, "get invoice")
	}

	return invoiceFromStripe(inv), nil
}

func (p *StripeProvider) ListPlans(ctx context.Context) ([]Plan, error) {
	defer observeAPICall("list_plans")()

	params := &stripe.PriceListParams{
		Active: stripe.Bool(true),
		Type:   stripe.String(string(stripe.PriceTypeRecurring)),
	}
	params.AddExpand("data.product")
	params.Context = ctx

	var plans []Plan
	iter := stripeprice.List(params)
	for iter.Next() {
		pr := iter.Price()
		plan := Plan{
			ID:          pr.ID,
			AmountCents: pr.UnitAmount,
			Currency:    string(pr.Currency),
		}
		if pr.Recurring != nil {
			plan.Interval = string(pr.Recurring.Interval)
			plan.IntervalCount = pr.Recurring.IntervalCount
		}
		if pr.Product != nil {
			plan.ProductID = pr.Product.ID
			plan.Name = pr.Product.Name
			plan.Description = pr.Product.Description
		}
		if plan.Name == "" {
			plan.Name = pr.Nickname
		}
		plans = append(plans, plan)
	}
	if err := iter.Err(); err != nil {
		return nil, wrapStripeErr(err, "list prices")
	}

	return plans, nil
}

// =============================================================================
// Webhook verification
// =============================================================================

// StripeVerifier authenticates webhook payloads against the signing secret
// and decodes them into WebhookEvent.
type StripeVerifier struct {
	secret string
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret}
}

func (v *StripeVerifier) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signature, v.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}
	return decodeEvent(event)
}

// InsecureVerifier decodes webhook payloads without a signature check.
// For local development against the Stripe CLI or raw curl only.
type InsecureVerifier struct{}

func (InsecureVerifier) VerifyWebhook(payload []byte, _ string) (*WebhookEvent, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhookEvent, err)
	}
	return decodeEvent(event)
}

// decodeEvent converts a raw Stripe event into the tagged WebhookEvent
// union, unmarshaling the per-type payload exactly once.
func decodeEvent(event stripe.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{
		ID:      event.ID,
		RawType: string(event.Type),
	}

	switch string(event.Type) {
	case string(EventCheckoutCompleted):
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedWebhookEvent, err)
		}
		out.Type = EventCheckoutCompleted
		out.Checkout = checkoutFromStripe(&session)

	case string(EventInvoicePaid), string(EventInvoicePaymentFailed):
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedWebhookEvent, err)
		}
		out.Type = EventType(event.Type)
		inv := invoiceFromStripe(&invoice)
		out.Invoice = &InvoiceEvent{
			InvoiceID:        inv.ID,
			CustomerID:       inv.CustomerID,
			CustomerEmail:    inv.CustomerEmail,
			SubscriptionID:   inv.SubscriptionID,
			AmountPaidCents:  inv.AmountPaidCents,
			AmountDueCents:   inv.AmountDueCents,
			Currency:         inv.Currency,
			HostedInvoiceURL: inv.HostedInvoiceURL,
		}

	case string(EventSubscriptionUpdated), string(EventSubscriptionDeleted):
		var subscription stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", ErrMalformedWebhookEvent, err)
		}
		out.Type = EventType(event.Type)
		sub := subscriptionFromStripe(&subscription)
		out.Subscription = &SubscriptionEvent{
			SubscriptionID:     sub.ID,
			CustomerID:         sub.CustomerID,
			Status:             sub.Status,
			CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			AmountCents:        sub.AmountCents,
			Currency:           sub.Currency,
			Interval:           sub.Interval,
		}

	default:
		out.Type = EventUnknown
	}

	return out, nil
}

// =============================================================================
// Conversion helpers
// =============================================================================

func customerFromStripe(c *stripe.Customer) *Customer {
	return &Customer{
		ID:        c.ID,
		Email:     c.Email,
		Name:      c.Name,
		CreatedAt: time.Unix(c.Created, 0),
	}
}

func checkoutFromStripe(session *stripe.CheckoutSession) *CheckoutCompleted {
	out := &CheckoutCompleted{
		SessionID:   session.ID,
		AmountTotal: session.AmountTotal,
		Currency:    string(session.Currency),
	}
	if session.Customer != nil {
		out.CustomerID = session.Customer.ID
	}
	if session.CustomerDetails != nil {
		out.CustomerEmail = session.CustomerDetails.Email
	}
	if out.CustomerEmail == "" {
		out.CustomerEmail = session.CustomerEmail
	}
	if session.Subscription != nil {
		out.SubscriptionID = session.Subscription.ID
	}
	return out
}

func invoiceFromStripe(inv *stripe.Invoice) *Invoice {
	out := &Invoice{
		ID:               inv.ID,
		CustomerEmail:    inv.CustomerEmail,
		Status:           string(inv.Status),
		AmountDueCents:   inv.AmountDue,
		AmountPaidCents:  inv.AmountPaid,
		Currency:         string(inv.Currency),
		HostedInvoiceURL: inv.HostedInvoiceURL,
		CreatedAt:        time.Unix(inv.Created, 0),
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
		if out.CustomerEmail == "" {
			out.CustomerEmail = inv.Customer.Email
		}
	}
	// v83 nests the subscription reference under Parent
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	return out
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
		CreatedAt:         time.Unix(sub.Created, 0),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CanceledAt > 0 {
		t := time.Unix(sub.CanceledAt, 0)
		out.CanceledAt = &t
	}
	// v83 moved the billing period and price onto subscription items
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0)
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.AmountCents = item.Price.UnitAmount
			out.Currency = string(item.Price.Currency)
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out
}

// wrapStripeErr converts a stripe-go error into a StripeError carrying the
// provider error code and request id.
func wrapStripeErr(err error, operation string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       fmt.Sprintf("failed to %s: %s", operation, stripeErr.Msg),
			Code:          string(stripeErr.Code),
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	return errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing
}
