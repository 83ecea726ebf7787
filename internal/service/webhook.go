package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/heimdall/internal/billing"
	"github.com/dukerupert/heimdall/internal/dbclient"
	"github.com/dukerupert/heimdall/internal/dedup"
	"github.com/dukerupert/heimdall/internal/domain"
	"github.com/dukerupert/heimdall/internal/notify"
	"github.com/dukerupert/heimdall/internal/telemetry"
)

// DatabaseService is the slice of the database service client used by
// webhook processing. Satisfied by *dbclient.Client.
type DatabaseService interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUserSubscription(ctx context.Context, email string, params dbclient.UserSubscriptionUpdate) error
	CreateSubscription(ctx context.Context, record domain.Subscription) (*domain.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, patch dbclient.SubscriptionPatch) error
	GetSubscriptionByStripeID(ctx context.Context, stripeSubID string) (*domain.Subscription, error)
}

// Notifier delivers lifecycle notifications. Satisfied by *notify.Dispatcher.
type Notifier interface {
	Send(ctx context.Context, email string, category notify.Category, data map[string]interface{}) error
	SendInvoiceReceipt(ctx context.Context, to string, invoice notify.InvoiceData) error
}

// WebhookProcessor reconciles decoded webhook events against the database
// service and dispatches notifications.
type WebhookProcessor interface {
	// ProcessEvent applies one webhook event. A nil return acknowledges
	// the event to the provider; an error asks the provider to retry.
	ProcessEvent(ctx context.Context, event *billing.WebhookEvent) error
}

type webhookProcessor struct {
	provider billing.Provider
	db       DatabaseService
	notifier Notifier
	events   dedup.Store
	logger   *slog.Logger
}

func NewWebhookProcessor(
	provider billing.Provider,
	db DatabaseService,
	notifier Notifier,
	events dedup.Store,
	logger *slog.Logger,
) WebhookProcessor {
	return &webhookProcessor{
		provider: provider,
		db:       db,
		notifier: notifier,
		events:   events,
		logger:   logger,
	}
}

func (p *webhookProcessor) ProcessEvent(ctx context.Context, event *billing.WebhookEvent) error {
	start := time.Now()
	eventType := string(event.Type)
	if event.Type == billing.EventUnknown {
		eventType = "unknown"
	}

	if telemetry.Business != nil {
		telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
		defer func() {
			telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		}()
	}

	// marked is true when this delivery recorded the event id; a failed
	// handler must clear the mark or the provider's redelivery would be
	// acknowledged as a duplicate and the event lost for good.
	marked := false
	if event.ID != "" {
		seen, err := p.events.Seen(ctx, event.ID)
		if err != nil {
			// A broken dedup store must not block event processing
			p.logger.Warn("dedup store check failed, processing event anyway",
				"event_id", event.ID,
				"error", err,
			)
		} else if seen {
			p.logger.Info("duplicate webhook event acknowledged",
				"event_id", event.ID,
				"type", event.RawType,
			)
			if telemetry.Business != nil {
				telemetry.Business.WebhookDuplicate.WithLabelValues(eventType).Inc()
			}
			return nil
		} else {
			marked = true
		}
	}

	var err error
	switch event.Type {
	case billing.EventCheckoutCompleted:
		err = p.handleCheckoutCompleted(ctx, event.Checkout)
	case billing.EventInvoicePaid:
		err = p.handleInvoicePaid(ctx, event.Invoice)
	case billing.EventInvoicePaymentFailed:
		err = p.handleInvoicePaymentFailed(ctx, event.Invoice)
	case billing.EventSubscriptionUpdated:
		err = p.handleSubscriptionUpdated(ctx, event.Subscription)
	case billing.EventSubscriptionDeleted:
		err = p.handleSubscriptionDeleted(ctx, event.Subscription)
	default:
		p.logger.Debug("unhandled webhook event type",
			"event_id", event.ID,
			"type", event.RawType,
		)
		return nil
	}

	if err != nil {
		if marked {
			if forgetErr := p.events.Forget(ctx, event.ID); forgetErr != nil {
				p.logger.Warn("failed to clear dedup mark for failed event",
					"event_id", event.ID,
					"error", forgetErr,
				)
			}
		}
		telemetry.CaptureError(err, map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.RawType,
		})
	}
	if telemetry.Business != nil {
		if err != nil {
			telemetry.Business.WebhookFailed.WithLabelValues(eventType, domain.ErrorCode(err)).Inc()
		} else {
			telemetry.Business.WebhookProcessed.WithLabelValues(eventType).Inc()
		}
	}
	return err
}

// handleCheckoutCompleted records the new subscription and welcomes the
// customer. Database failures propagate so the provider redelivers;
// projection and notification failures are logged and swallowed.
func (p *webhookProcessor) handleCheckoutCompleted(ctx context.Context, ev *billing.CheckoutCompleted) error {
	p.logger.Info("processing checkout completed",
		"session_id", ev.SessionID,
		"subscription_id", ev.SubscriptionID,
	)

	if ev.SubscriptionID == "" {
		return domain.Invalid("webhook.checkout_completed", "checkout session has no subscription")
	}

	email, err := p.resolveEmail(ctx, ev.CustomerEmail, ev.CustomerID)
	if err != nil {
		return err
	}

	user, err := p.db.GetUserByEmail(ctx, email)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// Signup creates the user before checkout; a miss here is the
			// user service lagging, so let the provider redeliver.
			p.logger.Error("no user record for checkout customer",
				"email", email,
				"session_id", ev.SessionID,
			)
			return ErrUserNotFound
		}
		return err
	}

	// Redelivered checkout events converge on the already-created record
	if existing, err := p.db.GetSubscriptionByStripeID(ctx, ev.SubscriptionID); err == nil {
		p.logger.Info("subscription record already exists, skipping create",
			"subscription_id", ev.SubscriptionID,
			"record_id", existing.ID,
		)
		p.updateUserProjection(ctx, email, true, &ev.SubscriptionID, &existing.EndDate)
		return nil
	} else if !domain.IsCode(err, domain.ENOTFOUND) {
		return err
	}

	// The checkout payload carries no billing period; fetch the live
	// subscription for period and price details.
	sub, err := p.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return domain.WrapError(err, domain.EUNAVAILABLE, "webhook.checkout_completed", "failed to fetch subscription from provider")
	}

	record := domain.Subscription{
		UserID:               user.ID,
		PlanType:             planTypeForInterval(sub.Interval),
		Status:               mapProviderStatus(sub.Status),
		IsActive:             sub.Status == "active" || sub.Status == "trialing",
		AutoRenew:            !sub.CancelAtPeriodEnd,
		StartDate:            sub.CurrentPeriodStart,
		EndDate:              sub.CurrentPeriodEnd,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     ev.CustomerID,
		Amount:               float64(sub.AmountCents) / 100,
		Currency:             sub.Currency,
	}

	created, err := p.db.CreateSubscription(ctx, record)
	if err != nil {
		return err
	}

	p.logger.Info("subscription record created",
		"record_id", created.ID,
		"user_id", user.ID,
		"plan_type", record.PlanType,
	)
	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsCreated.WithLabelValues(record.PlanType).Inc()
	}

	p.updateUserProjection(ctx, email, true, &sub.ID, &record.EndDate)

	p.sendNotification(ctx, email, notify.CategoryNew, map[string]interface{}{
		"planType": record.PlanType,
		"amount":   record.Amount,
		"currency": record.Currency,
		"endDate":  record.EndDate,
	})

	return nil
}

// handleInvoicePaid extends the subscription period for a renewal and sends
// the renewal notice plus an invoice receipt.
func (p *webhookProcessor) handleInvoicePaid(ctx context.Context, ev *billing.InvoiceEvent) error {
	p.logger.Info("processing invoice paid",
		"invoice_id", ev.InvoiceID,
		"subscription_id", ev.SubscriptionID,
	)

	if ev.SubscriptionID == "" {
		p.logger.Debug("invoice not linked to a subscription, skipping",
			"invoice_id", ev.InvoiceID,
		)
		return nil
	}

	record, err := p.db.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// The initial invoice for a new subscription can arrive before
			// checkout.session.completed creates the record.
			p.logger.Error("no subscription record for paid invoice, acknowledging",
				"invoice_id", ev.InvoiceID,
				"subscription_id", ev.SubscriptionID,
			)
			return nil
		}
		return err
	}

	// Invoice payloads carry stale period data; use the live subscription
	sub, err := p.provider.GetSubscription(ctx, ev.SubscriptionID)
	if err != nil {
		return domain.WrapError(err, domain.EUNAVAILABLE, "webhook.invoice_paid", "failed to fetch subscription from provider")
	}

	status := domain.SubscriptionStatusActive
	active := true
	patch := dbclient.SubscriptionPatch{
		Status:   &status,
		IsActive: &active,
		EndDate:  &sub.CurrentPeriodEnd,
	}
	if err := p.db.UpdateSubscription(ctx, record.ID, patch); err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionRenewals.WithLabelValues(record.PlanType).Inc()
	}

	email, err := p.resolveEmail(ctx, ev.CustomerEmail, ev.CustomerID)
	if err != nil {
		p.logger.Error("failed to resolve customer email for renewal notice",
			"invoice_id", ev.InvoiceID,
			"error", err,
		)
		return nil
	}

	p.updateUserProjection(ctx, email, true, &ev.SubscriptionID, &sub.CurrentPeriodEnd)

	p.sendNotification(ctx, email, notify.CategoryRenewed, map[string]interface{}{
		"planType": record.PlanType,
		"endDate":  sub.CurrentPeriodEnd,
	})

	if err := p.notifier.SendInvoiceReceipt(ctx, email, notify.InvoiceData{
		InvoiceID:        ev.InvoiceID,
		AmountPaid:       float64(ev.AmountPaidCents) / 100,
		Currency:         ev.Currency,
		HostedInvoiceURL: ev.HostedInvoiceURL,
	}); err != nil {
		p.logger.Error("failed to send invoice receipt",
			"invoice_id", ev.InvoiceID,
			"error", err,
		)
	}

	return nil
}

// handleInvoicePaymentFailed alerts the customer. The subscription status
// change arrives separately via customer.subscription.updated.
func (p *webhookProcessor) handleInvoicePaymentFailed(ctx context.Context, ev *billing.InvoiceEvent) error {
	p.logger.Warn("processing invoice payment failed",
		"invoice_id", ev.InvoiceID,
		"subscription_id", ev.SubscriptionID,
		"amount_due_cents", ev.AmountDueCents,
	)

	email, err := p.resolveEmail(ctx, ev.CustomerEmail, ev.CustomerID)
	if err != nil {
		return err
	}

	p.sendNotification(ctx, email, notify.CategoryPaymentFailed, map[string]interface{}{
		"invoiceId": ev.InvoiceID,
		"amountDue": float64(ev.AmountDueCents) / 100,
		"currency":  ev.Currency,
	})

	return nil
}

// handleSubscriptionUpdated syncs status, auto-renew, and period changes
// onto the subscription record and picks the notification category from the
// transition: scheduled cancellation, reactivation, or a plain update.
func (p *webhookProcessor) handleSubscriptionUpdated(ctx context.Context, ev *billing.SubscriptionEvent) error {
	p.logger.Info("processing subscription updated",
		"subscription_id", ev.SubscriptionID,
		"status", ev.Status,
		"cancel_at_period_end", ev.CancelAtPeriodEnd,
	)

	record, err := p.db.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			// Acknowledge so the provider does not redeliver forever
			p.logger.Error("no subscription record for updated event, acknowledging",
				"subscription_id", ev.SubscriptionID,
			)
			return nil
		}
		return err
	}

	status := mapProviderStatus(ev.Status)
	active := status == domain.SubscriptionStatusActive
	autoRenew := !ev.CancelAtPeriodEnd
	patch := dbclient.SubscriptionPatch{
		Status:    &status,
		IsActive:  &active,
		AutoRenew: &autoRenew,
	}
	if !ev.CurrentPeriodEnd.IsZero() {
		patch.EndDate = &ev.CurrentPeriodEnd
	}
	if err := p.db.UpdateSubscription(ctx, record.ID, patch); err != nil {
		return err
	}

	category := notify.CategoryUpdated
	switch {
	case ev.CancelAtPeriodEnd:
		category = notify.CategoryCancellationScheduled
		if telemetry.Business != nil {
			telemetry.Business.SubscriptionsCancelled.WithLabelValues("scheduled").Inc()
		}
	case !record.AutoRenew && autoRenew && active:
		category = notify.CategoryReactivated
	}

	user, err := p.db.GetUser(ctx, record.UserID)
	if err != nil {
		p.logger.Error("failed to load user for subscription update",
			"user_id", record.UserID,
			"subscription_id", ev.SubscriptionID,
			"error", err,
		)
		return nil
	}

	p.updateUserProjection(ctx, user.Email, active, &ev.SubscriptionID, patch.EndDate)

	p.sendNotification(ctx, user.Email, category, map[string]interface{}{
		"planType":          record.PlanType,
		"status":            status,
		"cancelAtPeriodEnd": ev.CancelAtPeriodEnd,
		"endDate":           ev.CurrentPeriodEnd,
	})

	return nil
}

// handleSubscriptionDeleted marks the record cancelled and inactive once the
// provider terminates the subscription.
func (p *webhookProcessor) handleSubscriptionDeleted(ctx context.Context, ev *billing.SubscriptionEvent) error {
	p.logger.Info("processing subscription deleted",
		"subscription_id", ev.SubscriptionID,
	)

	record, err := p.db.GetSubscriptionByStripeID(ctx, ev.SubscriptionID)
	if err != nil {
		if domain.IsCode(err, domain.ENOTFOUND) {
			p.logger.Error("no subscription record for deleted event, acknowledging",
				"subscription_id", ev.SubscriptionID,
			)
			return nil
		}
		return err
	}

	status := domain.SubscriptionStatusCancelled
	inactive := false
	patch := dbclient.SubscriptionPatch{
		Status:    &status,
		IsActive:  &inactive,
		AutoRenew: &inactive,
	}
	if !ev.CurrentPeriodEnd.IsZero() {
		patch.EndDate = &ev.CurrentPeriodEnd
	}
	if err := p.db.UpdateSubscription(ctx, record.ID, patch); err != nil {
		return err
	}

	if telemetry.Business != nil {
		telemetry.Business.SubscriptionsCancelled.WithLabelValues("deleted").Inc()
	}

	user, err := p.db.GetUser(ctx, record.UserID)
	if err != nil {
		p.logger.Error("failed to load user for subscription deletion",
			"user_id", record.UserID,
			"subscription_id", ev.SubscriptionID,
			"error", err,
		)
		return nil
	}

	p.updateUserProjection(ctx, user.Email, false, nil, nil)

	p.sendNotification(ctx, user.Email, notify.CategoryEnded, map[string]interface{}{
		"planType": record.PlanType,
	})

	return nil
}

// resolveEmail prefers the email in the event payload and falls back to a
// provider customer lookup.
func (p *webhookProcessor) resolveEmail(ctx context.Context, email, customerID string) (string, error) {
	if email != "" {
		return email, nil
	}
	if customerID == "" {
		return "", domain.Invalid("webhook.resolve_email", "event carries neither email nor customer id")
	}

	customer, err := p.provider.GetCustomer(ctx, customerID)
	if err != nil {
		return "", domain.WrapError(err, domain.EUNAVAILABLE, "webhook.resolve_email",
			fmt.Sprintf("failed to fetch customer %s from provider", customerID))
	}
	if customer.Email == "" {
		return "", domain.Invalid("webhook.resolve_email", "provider customer has no email")
	}
	return customer.Email, nil
}

// updateUserProjection keeps the user record's subscription fields in sync.
// Failures are logged and swallowed: the subscription record is the source
// of truth and the projection heals on the next event.
func (p *webhookProcessor) updateUserProjection(ctx context.Context, email string, subscribed bool, stripeSubID *string, endDate *time.Time) {
	err := p.db.UpdateUserSubscription(ctx, email, dbclient.UserSubscriptionUpdate{
		IsSubscribed:         subscribed,
		StripeSubscriptionID: stripeSubID,
		SubscriptionEndDate:  endDate,
	})
	if err != nil {
		p.logger.Error("failed to update user subscription projection",
			"email", email,
			"error", err,
		)
	}
}

// sendNotification delivers a lifecycle notice, logging and swallowing
// failures so a down notification service never blocks reconciliation.
func (p *webhookProcessor) sendNotification(ctx context.Context, email string, category notify.Category, data map[string]interface{}) {
	if err := p.notifier.Send(ctx, email, category, data); err != nil {
		p.logger.Error("failed to send notification",
			"email", email,
			"category", category,
			"error", err,
		)
		if telemetry.Business != nil {
			telemetry.Business.NotificationsFailed.WithLabelValues(string(category)).Inc()
		}
		return
	}
	if telemetry.Business != nil {
		telemetry.Business.NotificationsSent.WithLabelValues(string(category)).Inc()
	}
}

// planTypeForInterval maps a provider billing interval to the internal plan type.
func planTypeForInterval(interval string) string {
	switch interval {
	case "year":
		return domain.PlanYearly
	default:
		return domain.PlanMonthly
	}
}

// mapProviderStatus maps provider subscription statuses onto the internal
// status set.
func mapProviderStatus(status string) string {
	switch status {
	case "active", "trialing":
		return domain.SubscriptionStatusActive
	case "past_due", "unpaid", "incomplete":
		return domain.SubscriptionStatusPastDue
	case "canceled", "incomplete_expired":
		return domain.SubscriptionStatusCancelled
	default:
		return status
	}
}
