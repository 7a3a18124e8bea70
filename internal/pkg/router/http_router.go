package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lukasweber/PitchPal/app/controllers"
	"github.com/lukasweber/PitchPal/internal/pkg/middleware"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Platform webhooks authenticate through their payload signature, not
	// through our token middleware.
	app.Post("/webhooks/apple-subscriptions", controllers.HandleAppleWebhook)

	admin := app.Group("/admin", middleware.AdminAPIKeyMiddleware())
	admin.Post("/subscriptions/reconcile", controllers.HandleAdminReconcile)
	admin.Get("/subscriptions/stats", controllers.HandleAdminSubscriptionStats)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
