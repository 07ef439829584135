package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/app/repository"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/database"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/statistics"
)

const defaultEventListLimit = 50

// HandleAdminBillingStats returns aggregate billing numbers for the dashboard.
func HandleAdminBillingStats(c *fiber.Ctx) error {
	stats := statistics.GetStatisticsData()
	return c.JSON(fiber.Map{
		"total_users":          stats.TotalUsers,
		"active_subscriptions": stats.ActiveSubscriptions,
		"total_invoices":       stats.TotalInvoices,
		"today_invoices":       stats.TodayInvoices,
		"total_revenue_cents":  stats.TotalRevenueCents,
	})
}

// HandleAdminListWebhookEvents lists recently received provider events.
func HandleAdminListWebhookEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultEventListLimit)
	if limit < 1 {
		limit = defaultEventListLimit
	}
	if limit > 200 {
		limit = 200
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events, err := billingService().ListRecentWebhookEvents(ctx, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load webhook events", "detail": errorDetail(err)})
	}

	items := make([]fiber.Map, 0, len(events))
	for _, ev := range events {
		items = append(items, fiber.Map{
			"id":                ev.ID,
			"provider":          ev.Provider,
			"provider_event_id": ev.ProviderEventID,
			"event_type":        ev.EventType,
			"received_at":       ev.CreatedAt.UTC().Format(time.RFC3339),
			"processed_at":      formatTimePtr(ev.ProcessedAt),
			"processing_error":  ev.ProcessingError,
		})
	}
	return c.JSON(fiber.Map{"events": items, "count": len(items)})
}

// HandleAdminGetWebhookEvent returns one stored event including its payload.
func HandleAdminGetWebhookEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid event id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ev, err := billingService().GetWebhookEvent(ctx, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Webhook event not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load webhook event", "detail": errorDetail(err)})
	}

	return c.JSON(fiber.Map{
		"id":                ev.ID,
		"provider":          ev.Provider,
		"provider_event_id": ev.ProviderEventID,
		"event_type":        ev.EventType,
		"payload":           ev.PayloadJSON,
		"received_at":       ev.CreatedAt.UTC().Format(time.RFC3339),
		"processed_at":      formatTimePtr(ev.ProcessedAt),
		"processing_error":  ev.ProcessingError,
	})
}

// HandleAdminReplayWebhookEvent re-runs a stored event through the dispatcher.
// Handlers are idempotent so replaying a processed event is harmless.
func HandleAdminReplayWebhookEvent(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid event id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := billingService().ReplayWebhookEvent(ctx, eventDispatcher(), uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Webhook event not found"})
		}
		log.Errorf("[Billing] Replay of webhook event %d failed: %v", id, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "replay_failed", "message": "Event replay failed", "detail": errorDetail(err)})
	}

	return c.JSON(fiber.Map{"ok": true, "event_id": id})
}

// HandleAdminGetUserSubscription shows the raw local subscription row without
// touching the provider.
func HandleAdminGetUserSubscription(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid user id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := billingService().GetUserSubscriptionRecord(ctx, uint(userID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_subscription", "message": "No subscription on record"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription", "detail": errorDetail(err)})
	}
	return c.JSON(sub)
}

// HandleAdminReconcileUser forces a plan reconciliation for one user.
func HandleAdminReconcileUser(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid user id"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	plan, err := billingService().ReconcileUserPlan(ctx, uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Reconciliation failed", "detail": errorDetail(err)})
	}
	return c.JSON(fiber.Map{"ok": true, "user_id": userID, "plan": plan})
}

// HandleAdminGetBillingSettings returns the runtime billing toggles.
func HandleAdminGetBillingSettings(c *fiber.Ctx) error {
	settings, err := repository.GetGlobalFactory().GetSettingRepository().Get()
	if err != nil || settings == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Settings not loaded", "detail": errorDetail(err)})
	}
	return c.JSON(fiber.Map{
		"site_title":             settings.GetSiteTitle(),
		"checkout_enabled":       settings.IsCheckoutEnabled(),
		"invoice_emails_enabled": settings.AreInvoiceEmailsEnabled(),
		"job_queue_worker_count": settings.GetJobQueueWorkerCount(),
	})
}

type updateBillingSettingsRequest struct {
	SiteTitle            *string `json:"site_title"`
	CheckoutEnabled      *bool   `json:"checkout_enabled"`
	InvoiceEmailsEnabled *bool   `json:"invoice_emails_enabled"`
	JobQueueWorkerCount  *int    `json:"job_queue_worker_count"`
}

// HandleAdminUpdateBillingSettings changes runtime toggles such as the
// checkout kill switch. Only fields present in the body are modified.
func HandleAdminUpdateBillingSettings(c *fiber.Ctx) error {
	var req updateBillingSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}

	settingRepo := repository.GetGlobalFactory().GetSettingRepository()
	current, err := settingRepo.Get()
	if err != nil || current == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Settings not loaded", "detail": errorDetail(err)})
	}

	updated := &models.AppSettings{
		SiteTitle:            current.GetSiteTitle(),
		SiteDescription:      current.SiteDescription,
		CheckoutEnabled:      current.IsCheckoutEnabled(),
		InvoiceEmailsEnabled: current.AreInvoiceEmailsEnabled(),
		JobQueueWorkerCount:  current.GetJobQueueWorkerCount(),
	}
	if req.SiteTitle != nil {
		updated.SiteTitle = *req.SiteTitle
	}
	if req.CheckoutEnabled != nil {
		updated.CheckoutEnabled = *req.CheckoutEnabled
	}
	if req.InvoiceEmailsEnabled != nil {
		updated.InvoiceEmailsEnabled = *req.InvoiceEmailsEnabled
	}
	if req.JobQueueWorkerCount != nil {
		updated.JobQueueWorkerCount = *req.JobQueueWorkerCount
	}

	if err := settingRepo.Save(updated); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "invalid_settings", "message": "Settings rejected", "detail": errorDetail(err)})
	}

	log.Infof("[Billing] Settings updated: checkout=%t invoice_mails=%t workers=%d",
		updated.CheckoutEnabled, updated.InvoiceEmailsEnabled, updated.JobQueueWorkerCount)
	return c.JSON(fiber.Map{
		"site_title":             updated.SiteTitle,
		"checkout_enabled":       updated.CheckoutEnabled,
		"invoice_emails_enabled": updated.InvoiceEmailsEnabled,
		"job_queue_worker_count": updated.JobQueueWorkerCount,
	})
}

// HandleAdminIssueAPIKey generates a fresh API key for a user. The raw key is
// returned exactly once; only its hash is stored.
func HandleAdminIssueAPIKey(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid user id"})
	}

	db := database.GetDB()
	var user models.User
	if err := db.First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user", "detail": errorDetail(err)})
	}

	settings, err := models.GetOrCreateUserSettings(db, user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings", "detail": errorDetail(err)})
	}

	rawKey, err := settings.IssueAPIKey()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to generate API key", "detail": errorDetail(err)})
	}
	if err := db.Save(settings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to store API key", "detail": errorDetail(err)})
	}

	log.Infof("[Billing] Issued API key %s... for user %d", settings.APIKeyPrefix, user.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"api_key":    rawKey,
		"key_prefix": settings.APIKeyPrefix,
		"created_at": formatTimePtr(settings.APIKeyCreatedAt),
	})
}

// HandleAdminRevokeAPIKey invalidates a user's API key.
func HandleAdminRevokeAPIKey(c *fiber.Ctx) error {
	userID, err := c.ParamsInt("id")
	if err != nil || userID < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid user id"})
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, uint(userID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings", "detail": errorDetail(err)})
	}
	if !settings.HasActiveAPIKey() {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "No active API key"})
	}

	settings.RevokeAPIKey()
	if err := db.Save(settings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to revoke API key", "detail": errorDetail(err)})
	}

	log.Infof("[Billing] Revoked API key for user %d", userID)
	return c.JSON(fiber.Map{"ok": true})
}
