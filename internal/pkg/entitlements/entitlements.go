package entitlements

import (
	"strings"

	"github.com/lukasweber/PitchPal/app/models"
)

type Tier string

const (
	TierFree    Tier = models.TierFree
	TierPremium Tier = models.TierPremium
)

// NormalizeTier collapses arbitrary input to a known tier, defaulting to free.
func NormalizeTier(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case models.TierPremium:
		return TierPremium
	default:
		return TierFree
	}
}

// IsEntitlingStatus reports whether a subscription status grants access.
// Grace period and billing retry keep access while the platform retries
// payment; only fully expired or revoked subscriptions drop it.
func IsEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive,
		models.SubscriptionStatusGracePeriod,
		models.SubscriptionStatusBillingRetry:
		return true
	default:
		return false
	}
}
