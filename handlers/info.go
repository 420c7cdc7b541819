package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

var startedAt = time.Now()

// Health reports liveness plus the backends the process was started with.
func Health(backends fiber.Map) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "Online 🟢",
			"message":  "Bond auction engine ready",
			"time":     time.Now().UTC(),
			"uptime":   time.Since(startedAt).Round(time.Second).String(),
			"backends": backends,
		})
	}
}
