package appstore

import "time"

// Transaction type reported in decoded transaction claims. Anything other
// than an auto-renewable subscription is rejected by the verify flow.
const TransactionTypeAutoRenewable = "Auto-Renewable Subscription"

// App Store Server Notification V2 types handled by the ingestor. Unlisted
// types fall through to the default mapping in the status mapper.
const (
	NotificationSubscribed            = "SUBSCRIBED"
	NotificationOfferRedeemed         = "OFFER_REDEEMED"
	NotificationDidRenew              = "DID_RENEW"
	NotificationRenewalExtended       = "RENEWAL_EXTENDED"
	NotificationDidFailToRenew        = "DID_FAIL_TO_RENEW"
	NotificationDidChangeRenewalState = "DID_CHANGE_RENEWAL_STATUS"
	NotificationGracePeriodExpired    = "GRACE_PERIOD_EXPIRED"
	NotificationExpired               = "EXPIRED"
	NotificationRefund                = "REFUND"
	NotificationRevoke                = "REVOKE"
)

// Numeric subscription status codes returned by the App Store Server API.
const (
	StatusCodeActive             = 1
	StatusCodeExpired            = 2
	StatusCodeBillingRetry       = 3
	StatusCodeBillingGracePeriod = 4
	StatusCodeRevoked            = 5
)

// TransactionClaims is the decoded payload of a signed transaction. Date
// fields carry milliseconds since epoch as issued by the platform.
type TransactionClaims struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	ProductID             string `json:"productId"`
	SubscriptionGroupID   string `json:"subscriptionGroupIdentifier"`
	AppAccountToken       string `json:"appAccountToken"`
	Environment           string `json:"environment"`
	Type                  string `json:"type"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	SignedDate            int64  `json:"signedDate"`
	RevocationDate        int64  `json:"revocationDate,omitempty"`
}

// ExpiresAt converts the millisecond expiry into a time.
func (c *TransactionClaims) ExpiresAt() time.Time {
	return timeFromMillis(c.ExpiresDate)
}

// IsRevoked reports whether the platform stamped a revocation date.
func (c *TransactionClaims) IsRevoked() bool {
	return c.RevocationDate != 0
}

// RenewalClaims is the decoded payload of signed renewal info.
type RenewalClaims struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	AutoRenewProductID    string `json:"autoRenewProductId"`
	AutoRenewStatus       int    `json:"autoRenewStatus"`
	Environment           string `json:"environment"`
}

// AutoRenewEnabled reports whether the user left auto-renew switched on.
func (c *RenewalClaims) AutoRenewEnabled() bool {
	return c.AutoRenewStatus == 1
}

// Notification is a fully decoded server notification: outer envelope plus
// the independently verified nested transaction and renewal payloads.
type Notification struct {
	NotificationType string
	Subtype          string
	NotificationUUID string
	SignedDate       time.Time
	TransactionInfo  *TransactionClaims
	RenewalInfo      *RenewalClaims
}

// notificationEnvelope is the raw claims shape of the outer notification JWS.
type notificationEnvelope struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	SignedDate       int64  `json:"signedDate"`
	Data             struct {
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
		SignedRenewalInfo     string `json:"signedRenewalInfo"`
	} `json:"data"`
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
