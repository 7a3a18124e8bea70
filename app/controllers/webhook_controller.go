package controllers

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
	"github.com/lukasweber/PitchPal/internal/pkg/database"
	metrics "github.com/lukasweber/PitchPal/internal/pkg/metrics/counter"
	"github.com/lukasweber/PitchPal/internal/pkg/subscription"
)

var (
	decoderOnce sync.Once
	decoder     *appstore.Decoder
	decoderErr  error
)

func getDecoder() (*appstore.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = appstore.NewDecoder()
	})
	return decoder, decoderErr
}

func getSubscriptionService() (*subscription.Service, error) {
	d, err := getDecoder()
	if err != nil {
		return nil, err
	}
	return subscription.NewServiceFromDB(database.GetDB(), d), nil
}

type webhookRequest struct {
	SignedPayload string `json:"signedPayload" validate:"required"`
}

// HandleAppleWebhook receives App Store Server Notifications V2. Payloads
// that fail trust verification get a 400 so the platform retries only for
// our own faults; everything verified is acknowledged with 200.
func HandleAppleWebhook(c *fiber.Ctx) error {
	var req webhookRequest
	if err := c.BodyParser(&req); err != nil || req.SignedPayload == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "signedPayload is required"})
	}

	svc, err := getSubscriptionService()
	if err != nil {
		log.Errorf("[Webhook] service unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing unavailable"})
	}

	result, err := svc.IngestNotification(req.SignedPayload)
	if err != nil {
		if appstore.IsVerificationError(err) {
			log.Warnf("[Webhook] rejected payload: %v", err)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload", "message": "Signature verification failed"})
		}
		log.Errorf("[Webhook] processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	response := fiber.Map{"success": true}
	if result.Duplicate {
		response["duplicate"] = true
		_ = metrics.AddWebhookDuplicate()
	} else if result.Applied && result.NotificationType != "" {
		_ = metrics.AddWebhookProcessed(result.NotificationType)
	}
	return c.JSON(response)
}
