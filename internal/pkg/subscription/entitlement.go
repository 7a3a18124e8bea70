package subscription

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/internal/pkg/cache"
)

const entitlementCacheTTL = 24 * time.Hour

// EntitlementVersionKey returns the cache key holding a user's current
// entitlement version.
func EntitlementVersionKey(userID uint) string {
	return fmt.Sprintf("entv:%d", userID)
}

// Granter applies tier changes to users. Every grant or revoke bumps the
// user's entitlement version so previously issued access tokens become
// stale; refreshing an expiry date does not.
type Granter struct {
	repo Repository
}

// NewGranter creates a granter on top of an injected repository.
func NewGranter(repo Repository) *Granter {
	return &Granter{repo: repo}
}

// Grant upgrades the user to premium until validUntil and returns the new
// entitlement version.
func (g *Granter) Grant(userID uint, validUntil time.Time, reason string) (uint64, error) {
	version, err := g.repo.GrantPremium(userID, validUntil)
	if err != nil {
		return 0, err
	}
	g.cacheVersion(userID, version)
	log.Infof("[Entitlement] granted premium user=%d until=%s version=%d reason=%s",
		userID, validUntil.Format(time.RFC3339), version, reason)
	return version, nil
}

// Revoke downgrades the user to the free tier and returns the new
// entitlement version.
func (g *Granter) Revoke(userID uint, reason string) (uint64, error) {
	version, err := g.repo.RevokePremium(userID)
	if err != nil {
		return 0, err
	}
	g.cacheVersion(userID, version)
	log.Infof("[Entitlement] revoked premium user=%d version=%d reason=%s", userID, version, reason)
	return version, nil
}

// RefreshExpiry extends the premium window without bumping the entitlement
// version. Used for renewals of an already entitled user.
func (g *Granter) RefreshExpiry(userID uint, validUntil time.Time) error {
	if err := g.repo.SetSubscriptionValidUntil(userID, validUntil); err != nil {
		return err
	}
	log.Debugf("[Entitlement] refreshed expiry user=%d until=%s", userID, validUntil.Format(time.RFC3339))
	return nil
}

// CurrentVersion returns the user's entitlement version, preferring the
// cache and falling back to the database on a miss.
func (g *Granter) CurrentVersion(userID uint) (uint64, error) {
	version, err := cache.GetUint64(EntitlementVersionKey(userID))
	if err == nil {
		return version, nil
	}
	if !cache.IsMiss(err) {
		log.Warnf("[Entitlement] cache read failed user=%d: %v", userID, err)
	}

	user, err := g.repo.GetUserByID(userID)
	if err != nil {
		return 0, err
	}
	g.cacheVersion(userID, user.EntitlementVersion)
	return user.EntitlementVersion, nil
}

func (g *Granter) cacheVersion(userID uint, version uint64) {
	if err := cache.Set(EntitlementVersionKey(userID), version, entitlementCacheTTL); err != nil {
		// The DB is the source of truth; a failed cache write only delays
		// staleness detection until the next read-through.
		log.Warnf("[Entitlement] cache write failed user=%d: %v", userID, err)
	}
}
