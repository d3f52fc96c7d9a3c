package perfmon

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// FiberMiddleware records one "api.request" duration sample and, on a
// 4xx/5xx response, increments "api.error" per request the façade
// serves.
func FiberMiddleware(m *Monitor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		m.RecordDuration("api.request", time.Since(start))
		if c.Response().StatusCode() >= 400 {
			m.IncrementCounter("api.error", 1)
		}
		return err
	}
}
