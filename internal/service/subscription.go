package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/heimdall/internal/billing"
	"github.com/dukerupert/heimdall/internal/domain"
	"github.com/dukerupert/heimdall/internal/telemetry"
)

// SubscriptionService drives the customer-facing subscription flows:
// checkout session creation, status lookup, cancellation, and plan listing.
type SubscriptionService interface {
	CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*SessionResult, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*CancelResult, error)
	ListPlans(ctx context.Context) ([]billing.Plan, error)
}

// PlanPrices maps plan types to provider price ids. An empty id means the
// plan is not sold.
type PlanPrices struct {
	MonthlyPriceID string
	YearlyPriceID  string
}

// PriceFor resolves a plan type (case-insensitive) to its price id.
func (p PlanPrices) PriceFor(planType string) (string, bool) {
	var id string
	switch strings.ToLower(strings.TrimSpace(planType)) {
	case domain.PlanMonthly:
		id = p.MonthlyPriceID
	case domain.PlanYearly:
		id = p.YearlyPriceID
	}
	return id, id != ""
}

// CreateSessionParams contains parameters for creating a checkout session.
type CreateSessionParams struct {
	// CustomerID is optional; a customer is created from Email when empty.
	CustomerID string
	Email      string
	PlanType   string
	SuccessURL string
	CancelURL  string
}

// SessionResult is the outcome of checkout session creation.
type SessionResult struct {
	CustomerID string `json:"customerId"`
	SessionID  string `json:"sessionId"`
	URL        string `json:"url"`
}

// SubscriptionStatus is the customer-facing view of a subscription.
type SubscriptionStatus struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
}

// CancelResult is the outcome of a cancellation request.
type CancelResult struct {
	Success           bool      `json:"success"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
}

type subscriptionService struct {
	provider  billing.Provider
	prices    PlanPrices
	clientURL string
	logger    *slog.Logger
}

func NewSubscriptionService(provider billing.Provider, prices PlanPrices, clientURL string, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		provider:  provider,
		prices:    prices,
		clientURL: clientURL,
		logger:    logger,
	}
}

func (s *subscriptionService) CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*SessionResult, error) {
	priceID, ok := s.prices.PriceFor(params.PlanType)
	if !ok {
		s.logger.Warn("checkout requested for unknown plan",
			"plan_type", params.PlanType,
		)
		return nil, ErrInvalidPlan
	}

	customerID := params.CustomerID
	if customerID == "" {
		if params.Email == "" {
			return nil, domain.Invalid("subscription.create_session", "email is required when no customer id is supplied")
		}

		// Reuse an existing provider customer before creating one
		existing, err := s.provider.GetCustomerByEmail(ctx, params.Email)
		if err != nil {
			return nil, domain.WrapError(err, domain.EUNAVAILABLE, "subscription.create_session", "failed to look up customer")
		}
		if existing != nil {
			customerID = existing.ID
		} else {
			customer, err := s.provider.CreateCustomer(ctx, billing.CreateCustomerParams{
				Email: params.Email,
			})
			if err != nil {
				return nil, domain.WrapError(err, domain.EUNAVAILABLE, "subscription.create_session", "failed to create customer")
			}
			customerID = customer.ID
		}
	}

	successURL := params.SuccessURL
	if successURL == "" {
		successURL = s.clientURL + "/subscription/success"
	}
	cancelURL := params.CancelURL
	if cancelURL == "" {
		cancelURL = s.clientURL + "/subscription/cancelled"
	}

	planType := strings.ToLower(strings.TrimSpace(params.PlanType))
	session, err := s.provider.CreateCheckoutSession(ctx, billing.CreateCheckoutSessionParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"plan_type": planType,
		},
	})
	if err != nil {
		s.logger.Error("failed to create checkout session",
			"plan_type", params.PlanType,
			"customer_id", customerID,
			"error", err,
		)
		return nil, ErrCheckoutFailed
	}

	s.logger.Info("checkout session created",
		"session_id", session.ID,
		"customer_id", customerID,
		"plan_type", planType,
	)
	if telemetry.Business != nil {
		telemetry.Business.CheckoutSessionsCreated.WithLabelValues(planType).Inc()
	}

	return &SessionResult{
		CustomerID: customerID,
		SessionID:  session.ID,
		URL:        session.URL,
	}, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionStatus, error) {
	if subscriptionID == "" {
		return nil, domain.Invalid("subscription.get", "subscription id is required")
	}

	sub, err := s.provider.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, "subscription.get", "failed to fetch subscription")
	}

	return &SubscriptionStatus{
		ID:                sub.ID,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
	}, nil
}

func (s *subscriptionService) CancelSubscription(ctx context.Context, subscriptionID string) (*CancelResult, error) {
	if subscriptionID == "" {
		return nil, domain.Invalid("subscription.cancel", "subscription id is required")
	}

	sub, err := s.provider.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, "subscription.cancel", "failed to cancel subscription")
	}

	s.logger.Info("subscription flagged to cancel at period end",
		"subscription_id", subscriptionID,
		"current_period_end", sub.CurrentPeriodEnd,
	)

	return &CancelResult{
		Success:           true,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
	}, nil
}

func (s *subscriptionService) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	plans, err := s.provider.ListPlans(ctx)
	if err != nil {
		return nil, domain.WrapError(err, domain.EUNAVAILABLE, "subscription.list_plans", "failed to list plans")
	}
	return plans, nil
}
