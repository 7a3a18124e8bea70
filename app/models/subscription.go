package models

import "time"

// Internal subscription statuses. Webhook notification types and the numeric
// status codes returned by the App Store Server API both map into this set.
const (
	SubscriptionStatusActive       = "active"
	SubscriptionStatusBillingRetry = "billing_retry"
	SubscriptionStatusGracePeriod  = "grace_period"
	SubscriptionStatusExpired      = "expired"
	SubscriptionStatusRevoked      = "revoked"
)

const (
	EnvironmentProduction = "Production"
	EnvironmentSandbox    = "Sandbox"
)

// Subscription mirrors one App Store purchase lineage (an original
// transaction) and its locally known state. Rows are created by the first
// verified receipt or webhook that references the transaction and are never
// hard-deleted.
type Subscription struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	UserID                *uint      `gorm:"index" json:"user_id,omitempty"`
	IsOrphaned            bool       `gorm:"not null;default:false;index" json:"is_orphaned"`
	AppAccountToken       string     `gorm:"type:varchar(36);index;default:null" json:"-"`
	OriginalTransactionID string     `gorm:"type:varchar(191);not null;uniqueIndex:ux_subscriptions_original_transaction" json:"original_transaction_id"`
	Environment           string     `gorm:"type:varchar(20);not null;default:'Production'" json:"environment"`
	ProductID             string     `gorm:"type:varchar(191);not null;index" json:"product_id"`
	SubscriptionGroupID   string     `gorm:"type:varchar(191);default:''" json:"subscription_group_id"`
	Status                string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	AutoRenewEnabled      bool       `gorm:"not null;default:true" json:"auto_renew_enabled"`
	ExpiresAt             time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	LastRenewalAt         *time.Time `gorm:"type:timestamp;default:null" json:"last_renewal_at,omitempty"`
	LastWebhookAt         *time.Time `gorm:"type:timestamp;default:null" json:"last_webhook_at,omitempty"`
	LastNotificationUUID  string     `gorm:"type:varchar(64);default:''" json:"last_notification_uuid"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsLinked reports whether the subscription is attached to a local user.
func (s *Subscription) IsLinked() bool {
	return s.UserID != nil && !s.IsOrphaned
}
