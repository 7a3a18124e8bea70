package subscription

import "errors"

// Business-rule rejections surfaced to callers as 4xx. Ownership conflicts
// are never silently resolved by overwriting.
var (
	ErrNotSubscription      = errors.New("subscription: transaction is not an auto-renewable subscription")
	ErrEnvironmentMismatch  = errors.New("subscription: transaction environment does not match this deployment")
	ErrTransactionExpired   = errors.New("subscription: transaction is already expired")
	ErrAccountMismatch      = errors.New("subscription: transaction belongs to a different account")
	ErrSubscriptionConflict = errors.New("subscription: subscription belongs to a different user")
	ErrUnknownSubscription  = errors.New("subscription: no subscription known for this transaction")
	ErrMissingInput         = errors.New("subscription: either signedTransaction or originalTransactionId is required")
)
