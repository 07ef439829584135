package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/MartinSeiffert/KlangFox/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// GetUserAccount returns account, plan and entitlement information for the
// authenticated user (API key). Security is enforced via API key middleware
// attached in the router.
func (s *APIServer) GetUserAccount(c *fiber.Ctx) error {
	return controllers.HandleGetUserAccount(c)
}

// PatchUserPreferences updates listening and mail preferences.
func (s *APIServer) PatchUserPreferences(c *fiber.Ctx) error {
	return controllers.HandleUpdateUserPreferences(c)
}

// GetSubscription returns the merged local+provider subscription view.
func (s *APIServer) GetSubscription(c *fiber.Ctx) error {
	return controllers.HandleGetSubscription(c)
}

// GetSubscriptionDetails returns the countdown view with raw provider fields.
func (s *APIServer) GetSubscriptionDetails(c *fiber.Ctx) error {
	return controllers.HandleGetSubscriptionDetails(c)
}

// PostSubscription starts a checkout for the requested plan.
func (s *APIServer) PostSubscription(c *fiber.Ctx) error {
	return controllers.HandleCreateSubscription(c)
}

// PostSubscriptionCancel schedules cancellation at the period end.
func (s *APIServer) PostSubscriptionCancel(c *fiber.Ctx) error {
	return controllers.HandleCancelSubscription(c)
}

// PostSubscriptionResume clears a scheduled cancellation.
func (s *APIServer) PostSubscriptionResume(c *fiber.Ctx) error {
	return controllers.HandleResumeSubscription(c)
}

// PutSubscriptionAutoDebit toggles automatic renewal.
func (s *APIServer) PutSubscriptionAutoDebit(c *fiber.Ctx) error {
	return controllers.HandleSetAutoDebit(c)
}

// PostRecoveryConfirm re-checks a freshly created subscription.
func (s *APIServer) PostRecoveryConfirm(c *fiber.Ctx) error {
	return controllers.HandleRecoveryConfirm(c)
}

// PostRecoveryFixStatus correlates recent payments against a stuck subscription.
func (s *APIServer) PostRecoveryFixStatus(c *fiber.Ctx) error {
	return controllers.HandleRecoveryFixStatus(c)
}

// PostRecoveryForceActivate forces the caller's local record active.
func (s *APIServer) PostRecoveryForceActivate(c *fiber.Ctx) error {
	return controllers.HandleRecoveryForceActivate(c)
}

// PostRecoveryPaymentMethod swaps the payment method and retries open invoices.
func (s *APIServer) PostRecoveryPaymentMethod(c *fiber.Ctx) error {
	return controllers.HandleRecoveryUpdatePaymentMethod(c)
}

// GetInvoices lists the caller's invoices.
func (s *APIServer) GetInvoices(c *fiber.Ctx) error {
	return controllers.HandleListInvoices(c)
}

// GetInvoicePDF streams one invoice document (owner-only).
func (s *APIServer) GetInvoicePDF(c *fiber.Ctx) error {
	return controllers.HandleDownloadInvoicePDF(c)
}

// GetAdminBillingStats returns aggregate billing numbers.
func (s *APIServer) GetAdminBillingStats(c *fiber.Ctx) error {
	return controllers.HandleAdminBillingStats(c)
}

// GetAdminBillingSettings returns the runtime billing toggles.
func (s *APIServer) GetAdminBillingSettings(c *fiber.Ctx) error {
	return controllers.HandleAdminGetBillingSettings(c)
}

// PutAdminBillingSettings changes runtime billing toggles.
func (s *APIServer) PutAdminBillingSettings(c *fiber.Ctx) error {
	return controllers.HandleAdminUpdateBillingSettings(c)
}

// GetAdminBillingEvents lists recently received webhook events.
func (s *APIServer) GetAdminBillingEvents(c *fiber.Ctx) error {
	return controllers.HandleAdminListWebhookEvents(c)
}

// GetAdminBillingEvent returns one stored webhook event with payload.
func (s *APIServer) GetAdminBillingEvent(c *fiber.Ctx) error {
	return controllers.HandleAdminGetWebhookEvent(c)
}

// PostAdminBillingEventReplay re-dispatches a stored webhook event.
func (s *APIServer) PostAdminBillingEventReplay(c *fiber.Ctx) error {
	return controllers.HandleAdminReplayWebhookEvent(c)
}

// GetAdminUserSubscription shows the raw local subscription row for a user.
func (s *APIServer) GetAdminUserSubscription(c *fiber.Ctx) error {
	return controllers.HandleAdminGetUserSubscription(c)
}

// PostAdminUserReconcile forces a plan reconciliation for a user.
func (s *APIServer) PostAdminUserReconcile(c *fiber.Ctx) error {
	return controllers.HandleAdminReconcileUser(c)
}

// PostAdminUserAPIKey issues a fresh API key for a user.
func (s *APIServer) PostAdminUserAPIKey(c *fiber.Ctx) error {
	return controllers.HandleAdminIssueAPIKey(c)
}

// DeleteAdminUserAPIKey revokes a user's API key.
func (s *APIServer) DeleteAdminUserAPIKey(c *fiber.Ctx) error {
	return controllers.HandleAdminRevokeAPIKey(c)
}
