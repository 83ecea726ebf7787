package service

import (
	"github.com/dukerupert/heimdall/internal/domain"
)

// Subscription session errors
var (
	ErrInvalidPlan          = domain.Errorf(domain.EINVALID, "", "Invalid or unconfigured plan type")
	ErrSubscriptionNotFound = domain.Errorf(domain.ENOTFOUND, "", "Subscription not found")
	ErrCheckoutFailed       = domain.Errorf(domain.EINTERNAL, "", "Failed to create checkout session")
)

// Webhook processing errors
var (
	ErrUserNotFound = domain.Errorf(domain.ENOTFOUND, "", "User not found for webhook event")
)
