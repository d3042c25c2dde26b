// Package security sets response headers appropriate for a JSON API that
// serves medical data.
package security

import (
	"github.com/gofiber/fiber/v2"
)

type Config struct {
	EnableHSTS bool
}

func Headers(cfg Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		// Patient data must never land in shared caches.
		c.Set("Cache-Control", "no-store")

		if cfg.EnableHSTS {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		return c.Next()
	}
}
