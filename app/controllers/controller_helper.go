package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/env"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/usercontext"
)

// requireUser resolves the authenticated user or writes a 401 response.
// The bool reports whether the request may proceed.
func requireUser(c *fiber.Ctx) (usercontext.UserContext, bool) {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
		return userCtx, false
	}
	return userCtx, true
}

// errorDetail exposes internal error text only in development.
func errorDetail(err error) interface{} {
	if err == nil {
		return nil
	}
	if env.IsDev() {
		return err.Error()
	}
	return nil
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
