package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/lukasweber/PitchPal/internal/pkg/auth"
	"github.com/lukasweber/PitchPal/internal/pkg/database"
	"github.com/lukasweber/PitchPal/internal/pkg/subscription"
	"github.com/lukasweber/PitchPal/internal/pkg/usercontext"
)

// JWTAuthMiddleware authenticates requests carrying a bearer access token.
// Tokens minted before the user's last entitlement change are rejected so
// clients re-authenticate and pick up the new tier.
func JWTAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing access token"})
		}

		claims, err := auth.ParseAccessToken(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid or expired access token"})
		}

		db := database.GetDB()
		if db == nil {
			log.Error("jwt middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		granter := subscription.NewGranter(subscription.NewRepository(db))
		currentVersion, err := granter.CurrentVersion(claims.UserID)
		if err != nil {
			if subscription.IsNotFound(err) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Unknown account"})
			}
			log.Errorf("jwt middleware: entitlement version lookup failed for user %d: %v", claims.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Entitlement check failed"})
		}
		if currentVersion != claims.EntitlementVersion {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "token_stale", "message": "Entitlements changed, refresh your session"})
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:             claims.UserID,
			IsLoggedIn:         true,
			IsGuest:            claims.IsGuest,
			Tier:               claims.Tier,
			EntitlementVersion: claims.EntitlementVersion,
		})

		return c.Next()
	}
}

// RequireRegistered blocks guest accounts from endpoints that attach
// purchases. Guests first have to convert to a full account.
func RequireRegistered(c *fiber.Ctx) error {
	ctx := usercontext.GetUserContext(c)
	if !ctx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Login required"})
	}
	if ctx.IsGuest {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "account_required", "message": "A registered account is required"})
	}
	return c.Next()
}

func extractBearerToken(c *fiber.Ctx) string {
	header := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
