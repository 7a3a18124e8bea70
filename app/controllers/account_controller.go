package controllers

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/lukasweber/PitchPal/app/models"
	"github.com/lukasweber/PitchPal/app/repository"
	"github.com/lukasweber/PitchPal/internal/pkg/auth"
	"github.com/lukasweber/PitchPal/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleRegister creates a full account. The generated appAccountToken is
// what the mobile client passes to the platform purchase API so webhooks can
// find their way back to this user.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "name, email and password are required"})
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := userRepo.GetByEmail(email); err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "email_taken", "message": "An account with this email already exists"})
	}

	user, err := models.CreateUser(req.Name, email, req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid account data"})
	}
	if err := userRepo.Create(user); err != nil {
		log.Errorf("[Account] creating user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Account creation failed"})
	}

	return respondWithSession(c, user, fiber.StatusCreated)
}

// HandleLogin authenticates by email and password and hands out a token pair.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}
	if err := validator.New().Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "email and password are required"})
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	user, err := userRepo.GetByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !user.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid email or password"})
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_disabled", "message": "Account is not active"})
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := userRepo.Update(user); err != nil {
		log.Warnf("[Account] updating last login for user %d: %v", user.ID, err)
	}

	return respondWithSession(c, user, fiber.StatusOK)
}

// HandleCreateGuest creates an anonymous account so the app works before
// sign-up. Guests can browse and even receive webhook-linked subscriptions
// via their appAccountToken, but verify/restore require a full account.
func HandleCreateGuest(c *fiber.Ctx) error {
	userRepo := repository.GetGlobalFactory().GetUserRepository()

	token := uuid.NewString()
	password, err := models.HashPassword(uuid.NewString())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Guest creation failed"})
	}

	user := &models.User{
		Name:            fmt.Sprintf("guest-%s", token[:8]),
		Email:           fmt.Sprintf("guest-%s@guests.pitchpal.app", token),
		Password:        password,
		Role:            models.ROLE_USER,
		Status:          models.STATUS_ACTIVE,
		IsGuest:         true,
		Tier:            models.TierFree,
		AppAccountToken: token,
	}
	if err := userRepo.Create(user); err != nil {
		log.Errorf("[Account] creating guest: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Guest creation failed"})
	}

	return respondWithSession(c, user, fiber.StatusCreated)
}

// HandleGetAccount returns the authenticated user's profile and entitlement
// state.
func HandleGetAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
	}

	return c.JSON(fiber.Map{
		"id":                     user.ID,
		"name":                   user.Name,
		"email":                  user.Email,
		"isGuest":                user.IsGuest,
		"tier":                   user.Tier,
		"appAccountToken":        user.AppAccountToken,
		"subscriptionValidUntil": formatTimePtr(user.SubscriptionValidUntil),
		"createdAt":              user.CreatedAt.UTC().Format(time.RFC3339),
		"lastLoginAt":            formatTimePtr(user.LastLoginAt),
	})
}

// respondWithSession issues and persists a fresh token pair for the user.
func respondWithSession(c *fiber.Ctx, user *models.User, status int) error {
	pair, record, err := auth.IssueTokenPair(user, c.Get("User-Agent"), c.IP())
	if err != nil {
		log.Errorf("[Account] issuing tokens for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}
	if err := repository.GetGlobalFactory().GetRefreshTokenRepository().Create(record); err != nil {
		log.Errorf("[Account] storing refresh token for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token issuance failed"})
	}

	return c.Status(status).JSON(fiber.Map{
		"success":      true,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
		"isGuest":      user.IsGuest,
		"tier":         user.Tier,
	})
}
