package controllers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/billing"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/usercontext"
)

// newTestApp returns a fiber app that seeds an authenticated user context
// before the handler runs.
func newTestApp(authenticated bool) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if authenticated {
			c.Locals("USER_CONTEXT", usercontext.UserContext{
				UserID:     1,
				Username:   "tester",
				IsLoggedIn: true,
				Plan:       "premium",
			})
		}
		return c.Next()
	})
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&m))
	return m
}

func TestCreateSubscriptionRequiresAuth(t *testing.T) {
	app := newTestApp(false)
	app.Post("/subscription", HandleCreateSubscription)

	req := httptest.NewRequest("POST", "/subscription", strings.NewReader(`{"plan":"premium","interval":"month"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "unauthorized", body["error"])
}

func TestCreateSubscriptionRejectsInvalidBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"plan":`},
		{"unknown plan", `{"plan":"gold","interval":"month"}`},
		{"unknown interval", `{"plan":"premium","interval":"week"}`},
		{"missing interval", `{"plan":"premium"}`},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(true)
			app.Post("/subscription", HandleCreateSubscription)

			req := httptest.NewRequest("POST", "/subscription", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

			body := decodeBody(t, resp.Body)
			assert.Equal(t, "invalid_request", body["error"])
		})
	}
}

func TestSetAutoDebitRequiresEnabledFlag(t *testing.T) {
	app := newTestApp(true)
	app.Put("/subscription/auto-debit", HandleSetAutoDebit)

	req := httptest.NewRequest("PUT", "/subscription/auto-debit", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubscriptionErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no subscription", billing.ErrNoSubscription, fiber.StatusNotFound, "no_subscription"},
		{"subscription not found", billing.ErrSubscriptionNotFound, fiber.StatusNotFound, "no_subscription"},
		{"gateway unavailable", billing.ErrGatewayUnavailable, fiber.StatusBadGateway, "provider_unavailable"},
		{"anything else", io.ErrUnexpectedEOF, fiber.StatusInternalServerError, "internal_server_error"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/boom", func(c *fiber.Ctx) error {
				return subscriptionError(c, tc.err)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, resp.StatusCode)

			body := decodeBody(t, resp.Body)
			assert.Equal(t, tc.wantCode, body["error"])
		})
	}
}
