package billing

import "errors"

// Sentinel errors returned by the billing service and gateway. Controllers map
// these onto HTTP status codes; everything else is treated as an internal error.
var (
	// ErrGatewayUnavailable means the provider could not be reached or answered
	// with a transport/server error. Callers must surface this instead of
	// serving silently stale data.
	ErrGatewayUnavailable = errors.New("billing gateway unavailable")

	// ErrSubscriptionNotFound means the provider no longer knows the
	// subscription id we hold locally.
	ErrSubscriptionNotFound = errors.New("subscription not found at provider")

	// ErrNoLinkedCustomer means the user has no billing account linkage yet.
	ErrNoLinkedCustomer = errors.New("no linked billing customer")

	// ErrNoSubscription means the user has no subscription record with an
	// external id, so provider-side operations are impossible.
	ErrNoSubscription = errors.New("no subscription on record")

	// ErrPlanNotMapped means no active plan mapping matched the requested
	// plan/interval combination.
	ErrPlanNotMapped = errors.New("plan is not mapped to a provider price")

	// ErrCheckoutDisabled means new subscriptions are administratively
	// disabled via app settings.
	ErrCheckoutDisabled = errors.New("checkout is currently disabled")
)
