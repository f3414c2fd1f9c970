package router

import (
	"github.com/FelixBraun/StudyPilot/app/controllers"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerPublicRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

// registerPublicRoutes wires the unauthenticated surface: health, signup and
// the payment gateway webhook (authenticated by its HMAC signature).
func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Post("/signup", controllers.HandleRegisterUser)
	app.Post("/webhooks/payments", controllers.HandlePaymentWebhook)
}
