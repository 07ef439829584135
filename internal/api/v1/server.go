package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/middleware"
)

// Pong is the response body of the liveness endpoint.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists every operation of the public v1 API. The route paths
// are documented in public/docs/v1/openapi.yml.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error

	GetUserAccount(c *fiber.Ctx) error
	PatchUserPreferences(c *fiber.Ctx) error

	GetSubscription(c *fiber.Ctx) error
	GetSubscriptionDetails(c *fiber.Ctx) error
	PostSubscription(c *fiber.Ctx) error
	PostSubscriptionCancel(c *fiber.Ctx) error
	PostSubscriptionResume(c *fiber.Ctx) error
	PutSubscriptionAutoDebit(c *fiber.Ctx) error

	PostRecoveryConfirm(c *fiber.Ctx) error
	PostRecoveryFixStatus(c *fiber.Ctx) error
	PostRecoveryForceActivate(c *fiber.Ctx) error
	PostRecoveryPaymentMethod(c *fiber.Ctx) error

	GetInvoices(c *fiber.Ctx) error
	GetInvoicePDF(c *fiber.Ctx) error

	GetAdminBillingStats(c *fiber.Ctx) error
	GetAdminBillingSettings(c *fiber.Ctx) error
	PutAdminBillingSettings(c *fiber.Ctx) error
	GetAdminBillingEvents(c *fiber.Ctx) error
	GetAdminBillingEvent(c *fiber.Ctx) error
	PostAdminBillingEventReplay(c *fiber.Ctx) error
	GetAdminUserSubscription(c *fiber.Ctx) error
	PostAdminUserReconcile(c *fiber.Ctx) error
	PostAdminUserAPIKey(c *fiber.Ctx) error
	DeleteAdminUserAPIKey(c *fiber.Ctx) error
}

// RegisterHandlers wires the v1 operations onto the given router group.
// Everything except /ping sits behind API key authentication; the admin
// subtree additionally requires the admin role.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	router.Get("/ping", si.GetPing)

	authed := router.Group("", middleware.APIKeyAuthMiddleware())

	authed.Get("/user", si.GetUserAccount)
	authed.Patch("/user/preferences", si.PatchUserPreferences)

	authed.Get("/subscription", si.GetSubscription)
	authed.Get("/subscription/details", si.GetSubscriptionDetails)
	authed.Post("/subscription", si.PostSubscription)
	authed.Post("/subscription/cancel", si.PostSubscriptionCancel)
	authed.Post("/subscription/resume", si.PostSubscriptionResume)
	authed.Put("/subscription/auto-debit", si.PutSubscriptionAutoDebit)

	authed.Post("/subscription/recovery/confirm", si.PostRecoveryConfirm)
	authed.Post("/subscription/recovery/fix-status", si.PostRecoveryFixStatus)
	authed.Post("/subscription/recovery/force-activate", si.PostRecoveryForceActivate)
	authed.Post("/subscription/recovery/payment-method", si.PostRecoveryPaymentMethod)

	authed.Get("/invoices", si.GetInvoices)
	authed.Get("/invoices/:number/pdf", si.GetInvoicePDF)

	admin := authed.Group("/admin", middleware.RequireAPIAdmin)
	admin.Get("/billing/stats", si.GetAdminBillingStats)
	admin.Get("/billing/settings", si.GetAdminBillingSettings)
	admin.Put("/billing/settings", si.PutAdminBillingSettings)
	admin.Get("/billing/events", si.GetAdminBillingEvents)
	admin.Get("/billing/events/:id", si.GetAdminBillingEvent)
	admin.Post("/billing/events/:id/replay", si.PostAdminBillingEventReplay)
	admin.Get("/users/:id/subscription", si.GetAdminUserSubscription)
	admin.Post("/users/:id/reconcile", si.PostAdminUserReconcile)
	admin.Post("/users/:id/api-key", si.PostAdminUserAPIKey)
	admin.Delete("/users/:id/api-key", si.DeleteAdminUserAPIKey)
}
