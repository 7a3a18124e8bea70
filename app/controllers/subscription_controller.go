package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/app/repository"
	"github.com/lukasweber/PitchPal/internal/pkg/appstore"
	"github.com/lukasweber/PitchPal/internal/pkg/auth"
	"github.com/lukasweber/PitchPal/internal/pkg/subscription"
	"github.com/lukasweber/PitchPal/internal/pkg/usercontext"
)

type verifyRequest struct {
	SignedTransaction string `json:"signedTransaction" validate:"required"`
}

type restoreRequest struct {
	SignedTransaction     string `json:"signedTransaction"`
	OriginalTransactionID string `json:"originalTransactionId"`
}

// HandleVerifySubscription attaches a client-submitted purchase to the
// calling user and returns fresh tokens reflecting the new tier.
func HandleVerifySubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "signedTransaction is required"})
	}

	svc, err := getSubscriptionService()
	if err != nil {
		log.Errorf("[Subscription] service unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Verification unavailable"})
	}

	sub, user, err := svc.VerifyPurchase(userCtx.UserID, req.SignedTransaction)
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return respondWithEntitlement(c, user, sub)
}

// HandleRestoreSubscription re-links an existing purchase after reinstall or
// account switch, accepting a signed transaction or a bare transaction ID.
func HandleRestoreSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req restoreRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	svc, err := getSubscriptionService()
	if err != nil {
		log.Errorf("[Subscription] service unavailable: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Restore unavailable"})
	}

	sub, user, err := svc.Restore(userCtx.UserID, req.SignedTransaction, req.OriginalTransactionID)
	if err != nil {
		return subscriptionErrorResponse(c, err)
	}
	return respondWithEntitlement(c, user, sub)
}

// respondWithEntitlement issues a fresh token pair so the client immediately
// holds a token minted at the new entitlement version.
func respondWithEntitlement(c *fiber.Ctx, user *models.User, sub *models.Subscription) error {
	pair, record, err := auth.IssueTokenPair(user, c.Get("User-Agent"), c.IP())
	if err != nil {
		log.Errorf("[Subscription] issuing tokens for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}
	if err := repository.GetGlobalFactory().GetRefreshTokenRepository().Create(record); err != nil {
		log.Errorf("[Subscription] storing refresh token for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}

	return c.JSON(fiber.Map{
		"success":                true,
		"accessToken":            pair.AccessToken,
		"refreshToken":           pair.RefreshToken,
		"expiresIn":              pair.ExpiresIn,
		"tier":                   user.Tier,
		"subscriptionValidUntil": formatTimePtr(user.SubscriptionValidUntil),
		"subscription": fiber.Map{
			"productId": sub.ProductID,
			"expiresAt": sub.ExpiresAt.UTC().Format(time.RFC3339),
			"status":    sub.Status,
		},
	})
}

func subscriptionErrorResponse(c *fiber.Ctx, err error) error {
	switch {
	case appstore.IsVerificationError(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_transaction", "message": "Transaction signature verification failed"})
	case errors.Is(err, subscription.ErrNotSubscription):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_transaction", "message": "Transaction is not an auto-renewable subscription"})
	case errors.Is(err, subscription.ErrEnvironmentMismatch):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_transaction", "message": "Transaction environment does not match"})
	case errors.Is(err, subscription.ErrTransactionExpired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "transaction_expired", "message": "Transaction is already expired"})
	case errors.Is(err, subscription.ErrMissingInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "signedTransaction or originalTransactionId is required"})
	case errors.Is(err, subscription.ErrAccountMismatch):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_mismatch", "message": "Transaction belongs to a different account"})
	case errors.Is(err, subscription.ErrSubscriptionConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "subscription_conflict", "message": "Subscription belongs to a different user"})
	case errors.Is(err, subscription.ErrUnknownSubscription):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No subscription known for this transaction"})
	case subscription.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
	default:
		log.Errorf("[Subscription] request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription processing failed"})
	}
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
