package domain

import "time"

// Subscription status values as stored by the database service.
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
)

// Plan types sold through checkout.
const (
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

// Subscription is the internal subscription record held by the database
// service. Amount is in major currency units (dollars, not cents); JSON tags
// match the database service wire format.
type Subscription struct {
	ID                   string    `json:"id,omitempty"`
	UserID               string    `json:"userId,omitempty"`
	PlanType             string    `json:"planType"`
	Status               string    `json:"status"`
	IsActive             bool      `json:"isActive"`
	AutoRenew            bool      `json:"autoRenew"`
	StartDate            time.Time `json:"startDate"`
	EndDate              time.Time `json:"endDate"`
	StripeSubscriptionID string    `json:"stripeSubscriptionId"`
	StripeCustomerID     string    `json:"stripeCustomerId"`
	Amount               float64   `json:"amount"`
	Currency             string    `json:"currency"`
}

// User is the internal user record projection maintained alongside
// subscriptions.
type User struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	IsSubscribed         bool       `json:"isSubscribed"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty"`
	SubscriptionEndDate  *time.Time `json:"subscriptionEndDate,omitempty"`
}
