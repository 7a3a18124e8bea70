package subscription

import (
	"time"

	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
)

// PayloadDecoder verifies and decodes signed App Store payloads. Satisfied
// by appstore.Decoder; tests substitute a fake that skips verification.
type PayloadDecoder interface {
	DecodeNotification(signedPayload string) (*appstore.Notification, error)
	DecodeTransaction(signedTransaction string) (*appstore.TransactionClaims, error)
	DecodeRenewalInfo(signedRenewalInfo string) (*appstore.RenewalClaims, error)
}

// Update is the partial field set applied through the shared upsert. Nil
// pointers leave the stored value untouched.
type Update struct {
	UserID               *uint
	ClearOrphan          bool
	Status               *string
	ProductID            *string
	AutoRenewEnabled     *bool
	ExpiresAt            *time.Time
	LastRenewalAt        *time.Time
	LastWebhookAt        *time.Time
	LastNotificationUUID *string
}

// IngestResult reports the outcome of one webhook ingestion.
type IngestResult struct {
	Duplicate bool
	// Applied is false for acknowledged-but-skipped notifications (missing
	// transaction info).
	Applied          bool
	NotificationType string
}

// ReconcileResult aggregates counters for one reconciliation pass.
type ReconcileResult struct {
	Synced        int   `json:"synced"`
	Errors        int   `json:"errors"`
	DriftDetected int   `json:"driftDetected"`
	Pruned        int64 `json:"pruned"`
}

func strPtr(s string) *string        { return &s }
func boolPtr(b bool) *bool           { return &b }
func timePtr(t time.Time) *time.Time { return &t }
func uintPtr(v uint) *uint           { return &v }
