package subscription

import (
	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
)

// Action classifies the entitlement effect of a notification, independent of
// the status it maps to.
type Action int

const (
	ActionNone Action = iota
	ActionGrant
	ActionRevoke
)

// StatusForNotification maps a notification to the internal subscription
// status. Unknown types default to active unless the transaction carries a
// revocation date.
func StatusForNotification(notificationType, subtype string, tx *appstore.TransactionClaims) string {
	_ = subtype // mapped by type alone; subtype only reaches the webhook log

	switch notificationType {
	case appstore.NotificationSubscribed,
		appstore.NotificationOfferRedeemed,
		appstore.NotificationDidRenew,
		appstore.NotificationRenewalExtended:
		return models.SubscriptionStatusActive

	case appstore.NotificationDidFailToRenew:
		return models.SubscriptionStatusBillingRetry

	case appstore.NotificationGracePeriodExpired,
		appstore.NotificationExpired:
		return models.SubscriptionStatusExpired

	case appstore.NotificationRefund,
		appstore.NotificationRevoke:
		return models.SubscriptionStatusRevoked

	default:
		if tx != nil && tx.IsRevoked() {
			return models.SubscriptionStatusRevoked
		}
		return models.SubscriptionStatusActive
	}
}

// ActionForNotification returns the entitlement action for a notification
// type. Renewal-related types refresh metadata only and never change access.
func ActionForNotification(notificationType string) Action {
	switch notificationType {
	case appstore.NotificationSubscribed,
		appstore.NotificationOfferRedeemed:
		return ActionGrant

	case appstore.NotificationGracePeriodExpired,
		appstore.NotificationExpired,
		appstore.NotificationRefund,
		appstore.NotificationRevoke:
		return ActionRevoke

	default:
		return ActionNone
	}
}

// RefreshesExpiry reports whether a no-change notification still moves the
// user's subscription_valid_until forward.
func RefreshesExpiry(notificationType string) bool {
	switch notificationType {
	case appstore.NotificationDidRenew, appstore.NotificationRenewalExtended:
		return true
	default:
		return false
	}
}

// StatusFromCode maps the App Store Server API numeric status codes onto the
// same internal enum the notification mapper produces.
func StatusFromCode(code int) string {
	switch code {
	case appstore.StatusCodeActive:
		return models.SubscriptionStatusActive
	case appstore.StatusCodeExpired:
		return models.SubscriptionStatusExpired
	case appstore.StatusCodeBillingRetry:
		return models.SubscriptionStatusBillingRetry
	case appstore.StatusCodeBillingGracePeriod:
		return models.SubscriptionStatusGracePeriod
	case appstore.StatusCodeRevoked:
		return models.SubscriptionStatusRevoked
	default:
		return models.SubscriptionStatusExpired
	}
}
