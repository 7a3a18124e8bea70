package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
	"github.com/lukasweber/PitchPal/internal/pkg/entitlements"
)

const (
	// driftThreshold is the largest expiry disagreement between the local
	// row and the platform that still counts as clock noise.
	driftThreshold = 60 * time.Second

	// webhookLogRetention is how long processed notification rows are kept
	// before the reconciler prunes them.
	webhookLogRetention = 90 * 24 * time.Hour

	defaultItemTimeout = 10 * time.Second
	defaultThrottle    = 250 * time.Millisecond
)

// PlatformClient fetches the authoritative subscription state. Satisfied by
// appstore.Client; tests substitute a stub.
type PlatformClient interface {
	GetSubscriptionStatus(ctx context.Context, originalTransactionID, environment string) (*appstore.LastTransaction, error)
}

// Reconciler walks every potentially entitling subscription, compares the
// local row against the platform's answer and corrects drift. Webhooks are
// the fast path; this is the safety net for deliveries that never arrived.
type Reconciler struct {
	repo    Repository
	client  PlatformClient
	decoder PayloadDecoder
	granter *Granter

	itemTimeout time.Duration
	throttle    time.Duration
	now         func() time.Time
}

// NewReconciler wires a reconciler from its parts.
func NewReconciler(repo Repository, client PlatformClient, decoder PayloadDecoder) *Reconciler {
	return &Reconciler{
		repo:        repo,
		client:      client,
		decoder:     decoder,
		granter:     NewGranter(repo),
		itemTimeout: defaultItemTimeout,
		throttle:    defaultThrottle,
		now:         time.Now,
	}
}

// Run executes one full reconciliation pass. Item failures are counted and
// skipped so a single bad subscription cannot stall the sweep; only a
// cancelled context stops it early.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileResult, error) {
	subs, err := r.repo.ListForReconciliation()
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	log.Infof("[Reconcile] starting pass over %d subscriptions", len(subs))

	for i := range subs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		processed, drifted, err := r.reconcileOne(ctx, &subs[i])
		switch {
		case err != nil:
			result.Errors++
			log.Errorf("[Reconcile] subscription %s: %v", subs[i].OriginalTransactionID, err)
		case processed:
			result.Synced++
			if drifted {
				result.DriftDetected++
			}
		}

		if r.throttle > 0 && i < len(subs)-1 {
			select {
			case <-time.After(r.throttle):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}

	pruned, err := r.repo.PruneWebhookLogs(r.now().Add(-webhookLogRetention))
	if err != nil {
		log.Errorf("[Reconcile] pruning webhook logs: %v", err)
		result.Errors++
	} else {
		result.Pruned = pruned
	}

	log.Infof("[Reconcile] pass done synced=%d drift=%d errors=%d pruned=%d",
		result.Synced, result.DriftDetected, result.Errors, result.Pruned)
	return result, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, sub *models.Subscription) (processed, drifted bool, err error) {
	itemCtx, cancel := context.WithTimeout(ctx, r.itemTimeout)
	defer cancel()

	last, err := r.client.GetSubscriptionStatus(itemCtx, sub.OriginalTransactionID, sub.Environment)
	if err != nil {
		if errors.Is(err, appstore.ErrNotFound) {
			log.Warnf("[Reconcile] subscription %s unknown upstream, leaving untouched", sub.OriginalTransactionID)
			return false, false, nil
		}
		return false, false, err
	}
	if last == nil {
		log.Warnf("[Reconcile] subscription %s has no transactions upstream, leaving untouched", sub.OriginalTransactionID)
		return false, false, nil
	}

	platformStatus := StatusFromCode(last.StatusCode)

	// The signed payloads come back through the same trust verification as
	// webhooks. If verification fails we still trust the numeric status but
	// keep the local expiry.
	platformExpiry := sub.ExpiresAt
	haveExpiry := false
	if last.SignedTransactionInfo != "" {
		if tx, err := r.decoder.DecodeTransaction(last.SignedTransactionInfo); err == nil {
			platformExpiry = tx.ExpiresAt()
			haveExpiry = true
		} else {
			log.Warnf("[Reconcile] subscription %s: transaction payload rejected: %v", sub.OriginalTransactionID, err)
		}
	}

	statusDrift := platformStatus != sub.Status
	expiryDrift := haveExpiry && absDuration(platformExpiry.Sub(sub.ExpiresAt)) > driftThreshold
	if !statusDrift && !expiryDrift {
		return true, false, nil
	}

	log.Infof("[Reconcile] drift on %s: status %s->%s expiry %s->%s",
		sub.OriginalTransactionID, sub.Status, platformStatus,
		sub.ExpiresAt.Format(time.RFC3339), platformExpiry.Format(time.RFC3339))

	upd := Update{Status: strPtr(platformStatus)}
	if haveExpiry {
		upd.ExpiresAt = timePtr(platformExpiry)
	}
	if last.SignedRenewalInfo != "" {
		if renewal, err := r.decoder.DecodeRenewalInfo(last.SignedRenewalInfo); err == nil {
			upd.AutoRenewEnabled = boolPtr(renewal.AutoRenewEnabled())
		}
	}
	if err := r.repo.Update(sub.OriginalTransactionID, upd); err != nil {
		return false, true, err
	}

	if sub.IsLinked() {
		if err := r.correctEntitlement(*sub.UserID, sub.Status, platformStatus, platformExpiry); err != nil {
			return false, true, err
		}
	}
	return true, true, nil
}

// correctEntitlement adjusts the user's tier when the corrected status flips
// entitlement. When both sides entitle, only the expiry moved, which never
// invalidates issued tokens.
func (r *Reconciler) correctEntitlement(userID uint, localStatus, platformStatus string, expiry time.Time) error {
	entitledBefore := entitlements.IsEntitlingStatus(localStatus)
	entitledAfter := entitlements.IsEntitlingStatus(platformStatus)

	switch {
	case entitledAfter && !entitledBefore:
		_, err := r.granter.Grant(userID, expiry, "reconcile")
		return err
	case !entitledAfter && entitledBefore:
		_, err := r.granter.Revoke(userID, "reconcile")
		return err
	case entitledAfter && entitledBefore:
		return r.granter.RefreshExpiry(userID, expiry)
	default:
		return nil
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
