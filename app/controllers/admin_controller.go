package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
	"github.com/lukasweber/PitchPal/internal/pkg/database"
	"github.com/lukasweber/PitchPal/internal/pkg/jobqueue"
	metrics "github.com/lukasweber/PitchPal/internal/pkg/metrics/counter"
	"github.com/lukasweber/PitchPal/internal/pkg/subscription"
)

// HandleAdminReconcile runs one reconciliation pass and returns its counters.
// With ?async=true the pass is enqueued as a background job instead. Guarded
// by the admin API key middleware.
func HandleAdminReconcile(c *fiber.Ctx) error {
	if c.QueryBool("async") {
		job, err := jobqueue.GetManager().GetQueue().EnqueueJob(
			jobqueue.JobTypeReconcile,
			jobqueue.ReconcileJobPayload{TriggeredBy: "admin"}.ToMap(),
		)
		if err != nil {
			log.Errorf("[Admin] failed to enqueue reconcile job: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Could not enqueue reconciliation"})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "queued": true, "jobId": job.ID})
	}

	tokens, err := appstore.NewTokenSourceFromEnv()
	if err != nil {
		log.Errorf("[Admin] App Store credentials not configured: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "not_configured", "message": "App Store Server API credentials are missing"})
	}

	d, err := getDecoder()
	if err != nil {
		log.Errorf("[Admin] decoder unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reconciliation unavailable"})
	}

	reconciler := subscription.NewReconciler(
		subscription.NewRepository(database.GetDB()),
		appstore.NewClient(tokens),
		d,
	)

	result, err := reconciler.Run(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] reconciliation aborted: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reconciliation aborted"})
	}

	_ = metrics.AddDriftCorrected(int64(result.DriftDetected))

	return c.JSON(result)
}

// HandleAdminSubscriptionStats returns the operational webhook counters plus
// the state of the background job queue.
func HandleAdminSubscriptionStats(c *fiber.Ctx) error {
	stats, err := metrics.Snapshot()
	if err != nil {
		log.Errorf("[Admin] reading counters: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Counters unavailable"})
	}

	queue := jobqueue.GetManager().GetQueue()
	jobStats, err := queue.GetJobStats(c.UserContext())
	if err != nil {
		log.Warnf("[Admin] reading job stats: %v", err)
		jobStats = map[jobqueue.JobStatus]int64{}
	}
	pending, err := queue.GetQueueSize(c.UserContext())
	if err != nil {
		pending = -1
	}

	return c.JSON(fiber.Map{
		"webhooks": stats,
		"jobs":     fiber.Map{"byStatus": jobStats, "pending": pending},
	})
}
