package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/jobby-messaging/internal/handler"
	"github.com/noah-isme/jobby-messaging/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AppName        string
	AppEnv         string
	SessionHandler *handler.SessionHandler
	Connected      func() bool
}

// Register wires the bridge routes into the fiber application.
func Register(app *fiber.App, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", deps.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(deps.AppName, deps.AppEnv, deps.Connected))

	if deps.SessionHandler != nil {
		deps.SessionHandler.Register(api)
	}
}
