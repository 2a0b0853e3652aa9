package subscription

import "errors"

var (
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrNoActiveSubscription  = errors.New("no active subscription")
	ErrPlanNotFound          = errors.New("subscription plan not found")
	ErrInvalidPlan           = errors.New("invalid subscription plan")
	ErrUnknownStatus         = errors.New("unknown subscription status")
	ErrUnknownBillingCycle   = errors.New("unknown billing cycle")
	ErrUnknownTransaction    = errors.New("unknown transaction type")
	ErrInvalidTransition     = errors.New("invalid subscription status transition")
	ErrStaleTransition       = errors.New("subscription status changed concurrently")
	ErrMultipleActive        = errors.New("multiple active subscriptions for tenant")
	ErrNoCounterRegistered   = errors.New("no usage counter registered for resource")
	ErrEventAlreadyProcessed = errors.New("payment event already processed")
	ErrMissingEventID        = errors.New("payment event id is required")
	ErrInvalidSignature      = errors.New("payment signature verification failed")
	ErrUnsupportedEvent      = errors.New("unsupported payment event")
	ErrMissingTenantID       = errors.New("tenant id is required")
)
