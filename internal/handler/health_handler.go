package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/jobby-messaging/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment,omitempty"`
	Connected   *bool     `json:"connected,omitempty"`
}

// HealthCheck reports liveness. When connected is non-nil the push connection state is included.
func HealthCheck(service, environment string, connected func() bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     service,
			Environment: environment,
		}
		if connected != nil {
			state := connected()
			payload.Connected = &state
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
