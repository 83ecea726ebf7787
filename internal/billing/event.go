package billing

import "time"

// EventType identifies the webhook event variants this service acts on.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.session.completed"
	EventInvoicePaid          EventType = "invoice.paid"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
	EventSubscriptionUpdated  EventType = "customer.subscription.updated"
	EventSubscriptionDeleted  EventType = "customer.subscription.deleted"

	// EventUnknown covers every provider event type not handled here.
	EventUnknown EventType = ""
)

// WebhookEvent is a decoded webhook event. Exactly one of the payload
// pointers is set, matching Type; all are nil when Type is EventUnknown.
type WebhookEvent struct {
	// ID is the provider event id (evt_...), used for deduplication.
	ID string

	// Type is the recognized event type, or EventUnknown.
	Type EventType

	// RawType preserves the provider's type string for logging of
	// unrecognized events.
	RawType string

	Checkout     *CheckoutCompleted
	Invoice      *InvoiceEvent
	Subscription *SubscriptionEvent
}

// CheckoutCompleted is the payload of a checkout.session.completed event.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	AmountTotal    int64
	Currency       string
}

// InvoiceEvent is the payload of invoice.paid and invoice.payment_failed.
type InvoiceEvent struct {
	InvoiceID        string
	CustomerID       string
	CustomerEmail    string
	SubscriptionID   string
	AmountPaidCents  int64
	AmountDueCents   int64
	Currency         string
	HostedInvoiceURL string
}

// SubscriptionEvent is the payload of customer.subscription.updated and
// customer.subscription.deleted.
type SubscriptionEvent struct {
	SubscriptionID     string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	AmountCents        int64
	Currency           string
	Interval           string
}
