package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/usercontext"
)

// newAdminGuardApp builds a minimal app with the admin guard in front of a
// probe handler, optionally seeding the user context the way the API key
// middleware would.
func newAdminGuardApp(userCtx *usercontext.UserContext) *fiber.App {
	app := fiber.New()
	app.Get("/admin", func(c *fiber.Ctx) error {
		if userCtx != nil {
			c.Locals("USER_CONTEXT", *userCtx)
		}
		return c.Next()
	}, RequireAPIAdmin, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func TestRequireAPIAdminRejectsAnonymous(t *testing.T) {
	app := newAdminGuardApp(nil)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAPIAdminRejectsNonAdmin(t *testing.T) {
	app := newAdminGuardApp(&usercontext.UserContext{UserID: 1, Username: "listener", IsLoggedIn: true})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestRequireAPIAdminAllowsAdmin(t *testing.T) {
	app := newAdminGuardApp(&usercontext.UserContext{UserID: 1, Username: "operator", IsLoggedIn: true, IsAdmin: true})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/admin", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
