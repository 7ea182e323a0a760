package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if method, _ := c.Locals(usercontext.KeyAuthMethod).(string); method != "" && method != "session" {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "this endpoint needs a browser session",
		})
	}
	return c.Next()
}
