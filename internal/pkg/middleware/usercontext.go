package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/usercontext"
)

// UserContextMiddleware seeds every request with an anonymous user context.
// The API key middleware overwrites it for authenticated routes, so handlers
// can always rely on usercontext.GetUserContext returning a valid value.
func UserContextMiddleware(c *fiber.Ctx) error {
	if c.Locals("USER_CONTEXT") == nil {
		c.Locals("USER_CONTEXT", usercontext.UserContext{
			IsLoggedIn: false,
			IsAdmin:    false,
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
	}
	return c.Next()
}
