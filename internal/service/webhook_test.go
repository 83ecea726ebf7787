package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dukerupert/heimdall/internal/billing"
	"github.com/dukerupert/heimdall/internal/dbclient"
	"github.com/dukerupert/heimdall/internal/dedup"
	"github.com/dukerupert/heimdall/internal/domain"
	"github.com/dukerupert/heimdall/internal/notify"
)

// mockDatabaseService implements DatabaseService with customizable behavior
// and records calls for assertions.
type mockDatabaseService struct {
	getUserFunc                   func(ctx context.Context, id string) (*domain.User, error)
	getUserByEmailFunc            func(ctx context.Context, email string) (*domain.User, error)
	updateUserSubscriptionFunc    func(ctx context.Context, email string, params dbclient.UserSubscriptionUpdate) error
	createSubscriptionFunc        func(ctx context.Context, record domain.Subscription) (*domain.Subscription, error)
	updateSubscriptionFunc        func(ctx context.Context, id string, patch dbclient.SubscriptionPatch) error
	getSubscriptionByStripeIDFunc func(ctx context.Context, stripeSubID string) (*domain.Subscription, error)

	createdRecords []domain.Subscription
	patches        map[string]dbclient.SubscriptionPatch
	projections    []dbclient.UserSubscriptionUpdate
}

func newMockDatabaseService() *mockDatabaseService {
	return &mockDatabaseService{patches: make(map[string]dbclient.SubscriptionPatch)}
}

func (m *mockDatabaseService) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if m.getUserFunc != nil {
		return m.getUserFunc(ctx, id)
	}
	return &domain.User{ID: id, Email: "jane@example.com"}, nil
}

func (m *mockDatabaseService) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if m.getUserByEmailFunc != nil {
		return m.getUserByEmailFunc(ctx, email)
	}
	return &domain.User{ID: "user_1", Email: email}, nil
}

func (m *mockDatabaseService) UpdateUserSubscription(ctx context.Context, email string, params dbclient.UserSubscriptionUpdate) error {
	m.projections = append(m.projections, params)
	if m.updateUserSubscriptionFunc != nil {
		return m.updateUserSubscriptionFunc(ctx, email, params)
	}
	return nil
}

func (m *mockDatabaseService) CreateSubscription(ctx context.Context, record domain.Subscription) (*domain.Subscription, error) {
	m.createdRecords = append(m.createdRecords, record)
	if m.createSubscriptionFunc != nil {
		return m.createSubscriptionFunc(ctx, record)
	}
	created := record
	created.ID = "rec_1"
	return &created, nil
}

func (m *mockDatabaseService) UpdateSubscription(ctx context.Context, id string, patch dbclient.SubscriptionPatch) error {
	m.patches[id] = patch
	if m.updateSubscriptionFunc != nil {
		return m.updateSubscriptionFunc(ctx, id, patch)
	}
	return nil
}

func (m *mockDatabaseService) GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
	if m.getSubscriptionByStripeIDFunc != nil {
		return m.getSubscriptionByStripeIDFunc(ctx, stripeSubID)
	}
	return nil, domain.NotFound("dbclient.get_subscription_by_stripe_id", "subscription", stripeSubID)
}

type sentNotification struct {
	email    string
	category notify.Category
	data     map[string]interface{}
}

// mockNotifier records lifecycle notifications and invoice receipts.
type mockNotifier struct {
	sendFunc func(ctx context.Context, email string, category notify.Category, data map[string]interface{}) error

	sent     []sentNotification
	receipts []notify.InvoiceData
}

func (m *mockNotifier) Send(ctx context.Context, email string, category notify.Category, data map[string]interface{}) error {
	m.sent = append(m.sent, sentNotification{email: email, category: category, data: data})
	if m.sendFunc != nil {
		return m.sendFunc(ctx, email, category, data)
	}
	return nil
}

func (m *mockNotifier) SendInvoiceReceipt(ctx context.Context, to string, invoice notify.InvoiceData) error {
	m.receipts = append(m.receipts, invoice)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(provider billing.Provider, db DatabaseService, notifier Notifier) WebhookProcessor {
	return NewWebhookProcessor(provider, db, notifier, dedup.NewMemoryStore(time.Hour), testLogger())
}

func TestProcessEvent_CheckoutCompleted(t *testing.T) {
	periodEnd := time.Date(2026, 9, 23, 0, 0, 0, 0, time.UTC)
	provider := billing.NewMockProvider()
	provider.SimulateActiveSubscription("sub_123", "cus_1", periodEnd)
	db := newMockDatabaseService()
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_1",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{
			SessionID:      "cs_1",
			CustomerID:     "cus_1",
			CustomerEmail:  "jane@example.com",
			SubscriptionID: "sub_123",
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	if len(db.createdRecords) != 1 {
		t.Fatalf("created %d subscription records, want 1", len(db.createdRecords))
	}
	record := db.createdRecords[0]
	if record.StripeSubscriptionID != "sub_123" {
		t.Errorf("StripeSubscriptionID = %q, want sub_123", record.StripeSubscriptionID)
	}
	if record.PlanType != domain.PlanMonthly {
		t.Errorf("PlanType = %q, want %q", record.PlanType, domain.PlanMonthly)
	}
	if record.Status != domain.SubscriptionStatusActive || !record.IsActive {
		t.Errorf("record status = (%q, active=%v), want active", record.Status, record.IsActive)
	}
	if !record.EndDate.Equal(periodEnd) {
		t.Errorf("EndDate = %v, want %v", record.EndDate, periodEnd)
	}
	if record.Amount != 9.99 {
		t.Errorf("Amount = %v, want 9.99", record.Amount)
	}

	if len(db.projections) != 1 || !db.projections[0].IsSubscribed {
		t.Errorf("user projection not updated to subscribed: %+v", db.projections)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].category != notify.CategoryNew {
		t.Errorf("notifications = %+v, want one %q", notifier.sent, notify.CategoryNew)
	}
}

func TestProcessEvent_CheckoutCompleted_ExistingRecordConverges(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		return &domain.Subscription{ID: "rec_1", StripeSubscriptionID: stripeSubID}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_redelivered",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{
			CustomerEmail:  "jane@example.com",
			SubscriptionID: "sub_123",
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	if len(db.createdRecords) != 0 {
		t.Errorf("created %d records for an existing subscription, want 0", len(db.createdRecords))
	}
	if len(notifier.sent) != 0 {
		t.Errorf("sent %d notifications on convergence, want 0", len(notifier.sent))
	}
	if len(db.projections) != 1 {
		t.Errorf("projection updates = %d, want 1", len(db.projections))
	}
}

func TestProcessEvent_CheckoutCompleted_DatabaseErrorPropagates(t *testing.T) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	provider := billing.NewMockProvider()
	provider.SimulateActiveSubscription("sub_123", "cus_1", periodEnd)
	db := newMockDatabaseService()
	db.createSubscriptionFunc = func(ctx context.Context, record domain.Subscription) (*domain.Subscription, error) {
		return nil, domain.Unavailable(errors.New("connection refused"), "dbclient.create_subscription", "database service unreachable")
	}
	processor := newTestProcessor(provider, db, &mockNotifier{})

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_1",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{
			CustomerEmail:  "jane@example.com",
			SubscriptionID: "sub_123",
		},
	})
	if err == nil {
		t.Fatal("ProcessEvent() should propagate record creation failures")
	}
	if domain.ErrorCode(err) != domain.EUNAVAILABLE {
		t.Errorf("error code = %q, want EUNAVAILABLE", domain.ErrorCode(err))
	}
}

func TestProcessEvent_CheckoutCompleted_NotificationFailureSwallowed(t *testing.T) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	provider := billing.NewMockProvider()
	provider.SimulateActiveSubscription("sub_123", "cus_1", periodEnd)
	db := newMockDatabaseService()
	notifier := &mockNotifier{
		sendFunc: func(ctx context.Context, email string, category notify.Category, data map[string]interface{}) error {
			return errors.New("notification service down")
		},
	}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_1",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{
			CustomerEmail:  "jane@example.com",
			SubscriptionID: "sub_123",
		},
	})
	if err != nil {
		t.Fatalf("notification failures must not fail the event, got %v", err)
	}
	if len(db.createdRecords) != 1 {
		t.Errorf("record should be created despite notification failure")
	}
}

func TestProcessEvent_CheckoutCompleted_EmailFallbackToProvider(t *testing.T) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	provider := billing.NewMockProvider()
	provider.SimulateActiveSubscription("sub_123", "cus_1", periodEnd)
	provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1", Email: "jane@example.com"}
	db := newMockDatabaseService()
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_1",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{
			CustomerID:     "cus_1",
			SubscriptionID: "sub_123",
			// CustomerEmail intentionally empty
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].email != "jane@example.com" {
		t.Errorf("notification recipient = %+v, want jane@example.com", notifier.sent)
	}
}

func TestProcessEvent_InvoicePaid_RenewsSubscription(t *testing.T) {
	periodEnd := time.Date(2026, 10, 23, 0, 0, 0, 0, time.UTC)
	provider := billing.NewMockProvider()
	provider.SimulateActiveSubscription("sub_123", "cus_1", periodEnd)
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		return &domain.Subscription{ID: "rec_1", UserID: "user_1", PlanType: domain.PlanMonthly, StripeSubscriptionID: stripeSubID}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_inv",
		Type: billing.EventInvoicePaid,
		Invoice: &billing.InvoiceEvent{
			InvoiceID:        "in_1",
			CustomerEmail:    "jane@example.com",
			SubscriptionID:   "sub_123",
			AmountPaidCents:  999,
			Currency:         "usd",
			HostedInvoiceURL: "https://invoice.stripe.com/i/in_1",
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	patch, ok := db.patches["rec_1"]
	if !ok {
		t.Fatal("subscription record was not patched")
	}
	if patch.EndDate == nil || !patch.EndDate.Equal(periodEnd) {
		t.Errorf("patched EndDate = %v, want %v", patch.EndDate, periodEnd)
	}
	if patch.Status == nil || *patch.Status != domain.SubscriptionStatusActive {
		t.Errorf("patched Status = %v, want active", patch.Status)
	}

	if len(notifier.sent) != 1 || notifier.sent[0].category != notify.CategoryRenewed {
		t.Errorf("notifications = %+v, want one %q", notifier.sent, notify.CategoryRenewed)
	}
	if len(notifier.receipts) != 1 {
		t.Fatalf("invoice receipts = %d, want 1", len(notifier.receipts))
	}
	if notifier.receipts[0].AmountPaid != 9.99 {
		t.Errorf("receipt AmountPaid = %v, want 9.99", notifier.receipts[0].AmountPaid)
	}
}

func TestProcessEvent_InvoicePaid_NoRecordAcknowledges(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_inv",
		Type: billing.EventInvoicePaid,
		Invoice: &billing.InvoiceEvent{
			InvoiceID:      "in_1",
			SubscriptionID: "sub_unknown",
		},
	})
	if err != nil {
		t.Fatalf("a missing record must be acknowledged, got %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("no notifications expected, got %+v", notifier.sent)
	}
}

func TestProcessEvent_InvoicePaid_NotLinkedToSubscription(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	processor := newTestProcessor(provider, db, &mockNotifier{})

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:      "evt_inv",
		Type:    billing.EventInvoicePaid,
		Invoice: &billing.InvoiceEvent{InvoiceID: "in_oneoff"},
	})
	if err != nil {
		t.Fatalf("one-off invoices must be acknowledged, got %v", err)
	}
	if len(db.patches) != 0 {
		t.Errorf("no record should be patched, got %+v", db.patches)
	}
}

func TestProcessEvent_InvoicePaymentFailed(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_fail",
		Type: billing.EventInvoicePaymentFailed,
		Invoice: &billing.InvoiceEvent{
			InvoiceID:      "in_2",
			CustomerEmail:  "jane@example.com",
			AmountDueCents: 999,
			Currency:       "usd",
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.category != notify.CategoryPaymentFailed {
		t.Errorf("category = %q, want %q", sent.category, notify.CategoryPaymentFailed)
	}
	if sent.data["amountDue"] != 9.99 {
		t.Errorf("amountDue = %v, want 9.99", sent.data["amountDue"])
	}
}

func TestProcessEvent_SubscriptionUpdated_CancellationScheduled(t *testing.T) {
	periodEnd := time.Date(2026, 9, 23, 0, 0, 0, 0, time.UTC)
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		return &domain.Subscription{ID: "rec_1", UserID: "user_1", PlanType: domain.PlanMonthly, AutoRenew: true}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_upd",
		Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.SubscriptionEvent{
			SubscriptionID:    "sub_123",
			Status:            "active",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  periodEnd,
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	patch := db.patches["rec_1"]
	if patch.AutoRenew == nil || *patch.AutoRenew {
		t.Errorf("AutoRenew patch = %v, want false", patch.AutoRenew)
	}
	if patch.IsActive == nil || !*patch.IsActive {
		t.Errorf("IsActive patch = %v, want true until period end", patch.IsActive)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].category != notify.CategoryCancellationScheduled {
		t.Errorf("notifications = %+v, want %q", notifier.sent, notify.CategoryCancellationScheduled)
	}
}

func TestProcessEvent_SubscriptionUpdated_Reactivated(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		// Record shows a scheduled cancellation being undone
		return &domain.Subscription{ID: "rec_1", UserID: "user_1", PlanType: domain.PlanMonthly, AutoRenew: false}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_react",
		Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.SubscriptionEvent{
			SubscriptionID:    "sub_123",
			Status:            "active",
			CancelAtPeriodEnd: false,
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].category != notify.CategoryReactivated {
		t.Errorf("notifications = %+v, want %q", notifier.sent, notify.CategoryReactivated)
	}
}

func TestProcessEvent_SubscriptionUpdated_PastDue(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		return &domain.Subscription{ID: "rec_1", UserID: "user_1", PlanType: domain.PlanMonthly, AutoRenew: true}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_pd",
		Type: billing.EventSubscriptionUpdated,
		Subscription: &billing.SubscriptionEvent{
			SubscriptionID: "sub_123",
			Status:         "past_due",
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	patch := db.patches["rec_1"]
	if patch.Status == nil || *patch.Status != domain.SubscriptionStatusPastDue {
		t.Errorf("Status patch = %v, want past_due", patch.Status)
	}
	if patch.IsActive == nil || *patch.IsActive {
		t.Errorf("IsActive patch = %v, want false", patch.IsActive)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].category != notify.CategoryUpdated {
		t.Errorf("notifications = %+v, want %q", notifier.sent, notify.CategoryUpdated)
	}
}

func TestProcessEvent_SubscriptionUpdated_NoRecordAcknowledges(t *testing.T) {
	processor := newTestProcessor(billing.NewMockProvider(), newMockDatabaseService(), &mockNotifier{})

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:           "evt_upd",
		Type:         billing.EventSubscriptionUpdated,
		Subscription: &billing.SubscriptionEvent{SubscriptionID: "sub_unknown", Status: "active"},
	})
	if err != nil {
		t.Fatalf("a missing record must be acknowledged, got %v", err)
	}
}

func TestProcessEvent_SubscriptionDeleted(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		return &domain.Subscription{ID: "rec_1", UserID: "user_1", PlanType: domain.PlanMonthly}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:   "evt_del",
		Type: billing.EventSubscriptionDeleted,
		Subscription: &billing.SubscriptionEvent{
			SubscriptionID: "sub_123",
			CustomerID:     "cus_1",
			Status:         "canceled",
		},
	})
	if err != nil {
		t.Fatalf("ProcessEvent() error = %v", err)
	}

	patch := db.patches["rec_1"]
	if patch.Status == nil || *patch.Status != domain.SubscriptionStatusCancelled {
		t.Errorf("Status patch = %v, want cancelled", patch.Status)
	}
	if patch.IsActive == nil || *patch.IsActive {
		t.Errorf("IsActive patch = %v, want false", patch.IsActive)
	}
	if patch.AutoRenew == nil || *patch.AutoRenew {
		t.Errorf("AutoRenew patch = %v, want false", patch.AutoRenew)
	}

	if len(db.projections) != 1 || db.projections[0].IsSubscribed {
		t.Errorf("projection = %+v, want unsubscribed", db.projections)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].category != notify.CategoryEnded {
		t.Errorf("notifications = %+v, want %q", notifier.sent, notify.CategoryEnded)
	}
}

func TestProcessEvent_DuplicateEventSkipped(t *testing.T) {
	provider := billing.NewMockProvider()
	db := newMockDatabaseService()
	db.getSubscriptionByStripeIDFunc = func(ctx context.Context, stripeSubID string) (*domain.Subscription, error) {
		return &domain.Subscription{ID: "rec_1", UserID: "user_1", PlanType: domain.PlanMonthly}, nil
	}
	notifier := &mockNotifier{}
	processor := newTestProcessor(provider, db, notifier)

	event := &billing.WebhookEvent{
		ID:           "evt_dup",
		Type:         billing.EventSubscriptionDeleted,
		Subscription: &billing.SubscriptionEvent{SubscriptionID: "sub_123", Status: "canceled"},
	}

	if err := processor.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("first delivery error = %v", err)
	}
	if err := processor.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("duplicate delivery error = %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Errorf("notifications = %d, want 1 (duplicate must be a no-op)", len(notifier.sent))
	}
}

func TestProcessEvent_FailedEventRedeliveryReprocessed(t *testing.T) {
	periodEnd := time.Now().AddDate(0, 1, 0)
	provider := billing.NewMockProvider()
	provider.SimulateActiveSubscription("sub_123", "cus_1", periodEnd)
	db := newMockDatabaseService()

	// Database service is down for the first delivery and back for the
	// redelivery. The redelivery must re-run the handler, not be acked as
	// a duplicate, or the record is never stored.
	attempts := 0
	db.createSubscriptionFunc = func(ctx context.Context, record domain.Subscription) (*domain.Subscription, error) {
		attempts++
		if attempts == 1 {
			return nil, domain.Unavailable(errors.New("connection refused"), "dbclient.create_subscription", "database service unreachable")
		}
		created := record
		created.ID = "rec_1"
		return &created, nil
	}
	processor := newTestProcessor(provider, db, &mockNotifier{})

	event := &billing.WebhookEvent{
		ID:   "evt_retry",
		Type: billing.EventCheckoutCompleted,
		Checkout: &billing.CheckoutCompleted{
			CustomerEmail:  "jane@example.com",
			SubscriptionID: "sub_123",
		},
	}

	if err := processor.ProcessEvent(context.Background(), event); err == nil {
		t.Fatal("first delivery should propagate the database failure")
	}

	if err := processor.ProcessEvent(context.Background(), event); err != nil {
		t.Fatalf("redelivery error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("CreateSubscription attempts = %d, want 2", attempts)
	}
}

func TestProcessEvent_UnknownTypeAcknowledged(t *testing.T) {
	db := newMockDatabaseService()
	notifier := &mockNotifier{}
	processor := newTestProcessor(billing.NewMockProvider(), db, notifier)

	err := processor.ProcessEvent(context.Background(), &billing.WebhookEvent{
		ID:      "evt_other",
		Type:    billing.EventUnknown,
		RawType: "payment_intent.succeeded",
	})
	if err != nil {
		t.Fatalf("unknown events must be acknowledged, got %v", err)
	}
	if len(db.patches) != 0 || len(db.createdRecords) != 0 || len(notifier.sent) != 0 {
		t.Error("unknown events must have no side effects")
	}
}
