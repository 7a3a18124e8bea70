package router

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/lukasweber/PitchPal/app/controllers"
	"github.com/lukasweber/PitchPal/internal/pkg/cache"
	"github.com/lukasweber/PitchPal/internal/pkg/env"
	"github.com/lukasweber/PitchPal/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 60),
		Expiration: 1 * time.Minute,
		Storage:    newLimiterStorage(),
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)
	v1.Post("/auth/guest", controllers.HandleCreateGuest)
	v1.Post("/auth/refresh", controllers.HandleRefreshToken)

	v1.Get("/account", middleware.JWTAuthMiddleware(), controllers.HandleGetAccount)

	subscriptions := v1.Group("/subscriptions", middleware.JWTAuthMiddleware(), middleware.RequireRegistered)
	subscriptions.Post("/verify", controllers.HandleVerifySubscription)
	subscriptions.Post("/restore", controllers.HandleRestoreSubscription)
}

// newLimiterStorage backs the rate limiter with the same Redis the cache
// wrapper talks to, on its own DB so limiter keys never collide with cache
// entries.
func newLimiterStorage() *redis.Storage {
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if client := cache.GetClient(); client != nil {
		if h, p, err := net.SplitHostPort(client.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := client.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
	})
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
