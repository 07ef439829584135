package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/usercontext"
)

// RequireAPIAdmin ensures the authenticated caller has the admin role.
func RequireAPIAdmin(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "Authentication required",
		})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "Admin role required",
		})
	}
	return c.Next()
}
