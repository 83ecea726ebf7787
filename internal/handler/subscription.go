package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/heimdall/internal/billing"
	"github.com/dukerupert/heimdall/internal/domain"
	"github.com/dukerupert/heimdall/internal/middleware"
	"github.com/dukerupert/heimdall/internal/service"
)

// SubscriptionHandler exposes the customer-facing subscription endpoints.
type SubscriptionHandler struct {
	subscriptions service.SubscriptionService
}

func NewSubscriptionHandler(subscriptions service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

type createSubscriptionRequest struct {
	PlanType   string `json:"planType"`
	Email      string `json:"email"`
	CustomerID string `json:"customerId,omitempty"`
	SuccessURL string `json:"successUrl,omitempty"`
	CancelURL  string `json:"cancelUrl,omitempty"`
}

// HandleCreateSubscription handles POST /create-subscription.
func (h *SubscriptionHandler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, domain.Invalid("subscription.create", "invalid request body"))
		return
	}
	if req.PlanType == "" {
		ErrorResponse(w, r, domain.Invalid("subscription.create", "planType is required"))
		return
	}

	result, err := h.subscriptions.CreateCheckoutSession(r.Context(), service.CreateSessionParams{
		CustomerID: req.CustomerID,
		Email:      req.Email,
		PlanType:   req.PlanType,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		logger.Error("failed to create checkout session",
			"plan_type", req.PlanType,
			"error", err,
		)
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// HandleGetSubscription handles GET /subscription/{id}.
func (h *SubscriptionHandler) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := h.subscriptions.GetSubscription(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, status)
}

type cancelSubscriptionRequest struct {
	SubscriptionID string `json:"subscriptionId"`
}

// HandleCancelSubscription handles POST /cancel-subscription.
func (h *SubscriptionHandler) HandleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req cancelSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, domain.Invalid("subscription.cancel", "invalid request body"))
		return
	}
	if req.SubscriptionID == "" {
		ErrorResponse(w, r, domain.Invalid("subscription.cancel", "subscriptionId is required"))
		return
	}

	result, err := h.subscriptions.CancelSubscription(r.Context(), req.SubscriptionID)
	if err != nil {
		logger.Error("failed to cancel subscription",
			"subscription_id", req.SubscriptionID,
			"error", err,
		)
		ErrorResponse(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// HandleListPlans handles GET /plans.
func (h *SubscriptionHandler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.subscriptions.ListPlans(r.Context())
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if plans == nil {
		plans = []billing.Plan{}
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{"plans": plans})
}

// HandleHealth handles GET /health.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
