package router

import (
	"github.com/MartinSeiffert/KlangFox/app/controllers"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/constants"
	"github.com/gofiber/fiber/v2"
)

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Health probe for load balancers, no auth and no rate limit
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Billing provider webhooks (outside the rate-limited /api group,
	// signature-verified in the controller)
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
}
