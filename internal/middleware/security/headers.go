package security

import (
	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	IsDevelopment bool
}

// HeadersMiddleware sets response headers for a JSON and CSV API that is
// never framed or rendered as a page.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		// classified feedback is customer data
		c.Set("Cache-Control", "no-store")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}
