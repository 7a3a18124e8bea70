package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/app/repository"
	"github.com/lukasweber/PitchPal/internal/pkg/auth"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// HandleRefreshToken rotates a refresh token into a new token pair. The new
// access token carries the user's current entitlement version, so clients
// rejected with token_stale recover through this endpoint.
func HandleRefreshToken(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "refreshToken is required"})
	}

	repos := repository.GetGlobalFactory()
	tokenRepo := repos.GetRefreshTokenRepository()

	stored, err := tokenRepo.GetByHash(models.HashRefreshToken(req.RefreshToken))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid refresh token"})
	}
	if !stored.IsUsable(time.Now()) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Refresh token expired or revoked"})
	}

	user, err := repos.GetUserRepository().GetByID(stored.UserID)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown account"})
	}

	pair, record, err := auth.IssueTokenPair(user, c.Get("User-Agent"), c.IP())
	if err != nil {
		log.Errorf("[Auth] issuing tokens for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}
	if err := tokenRepo.Create(record); err != nil {
		log.Errorf("[Auth] storing refresh token for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}
	// Single-use rotation: the old session ends as soon as the new one exists.
	if err := tokenRepo.Revoke(stored.ID); err != nil {
		log.Warnf("[Auth] revoking rotated token %d: %v", stored.ID, err)
	}

	return c.JSON(fiber.Map{
		"success":      true,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
		"tier":         user.Tier,
	})
}
