package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/app/repository"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
	"github.com/lukasweber/PitchPal/internal/pkg/database"
	"github.com/lukasweber/PitchPal/internal/pkg/subscription"
)

// reconcilePassTimeout bounds one whole pass; individual upstream calls carry
// their own shorter timeouts inside the reconciler.
const reconcilePassTimeout = 30 * time.Minute

// processReconcileJob runs one reconciliation pass against the App Store
// Server API. The job fails (and is retried) when the platform credentials
// are missing or the pass itself errors out.
func processReconcileJob(ctx context.Context, job *Job) error {
	payload, err := ReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}

	tokens, err := appstore.NewTokenSourceFromEnv()
	if err != nil {
		return fmt.Errorf("platform credentials not configured: %w", err)
	}
	decoder, err := appstore.NewDecoder()
	if err != nil {
		return err
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	passCtx, cancel := context.WithTimeout(ctx, reconcilePassTimeout)
	defer cancel()

	reconciler := subscription.NewReconciler(subscription.NewRepository(db), appstore.NewClient(tokens), decoder)
	result, err := reconciler.Run(passCtx)
	if err != nil {
		return err
	}

	log.Infof("[JobQueue] Reconcile pass (triggered_by=%s): synced=%d drift=%d errors=%d pruned=%d",
		payload.TriggeredBy, result.Synced, result.DriftDetected, result.Errors, result.Pruned)
	return nil
}

// processPruneTokensJob deletes refresh tokens that expired before now.
// Revoked rows are kept until expiry so rotation misuse stays auditable.
func processPruneTokensJob(ctx context.Context, job *Job) error {
	_ = ctx
	_ = job

	deleted, err := repository.GetGlobalFactory().GetRefreshTokenRepository().DeleteExpired(time.Now())
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Infof("[JobQueue] Pruned %d expired refresh tokens", deleted)
	}
	return nil
}
