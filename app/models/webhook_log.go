package models

import "time"

// WebhookLog stores one row per processed App Store notification. The unique
// notification UUID index is the idempotency gate for at-least-once webhook
// delivery: the insert either lands or is rejected by the storage layer.
type WebhookLog struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	NotificationUUID      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_webhook_logs_notification_uuid" json:"notification_uuid"`
	NotificationType      string    `gorm:"type:varchar(64);not null;index" json:"notification_type"`
	Subtype               string    `gorm:"type:varchar(64);default:''" json:"subtype"`
	OriginalTransactionID string    `gorm:"type:varchar(191);not null;index" json:"original_transaction_id"`
	SignedDate            time.Time `gorm:"type:timestamp;not null" json:"signed_date"`
	ProcessedAt           time.Time `gorm:"autoCreateTime;index" json:"processed_at"`
}
