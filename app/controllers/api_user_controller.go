package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/app/repository"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/database"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/entitlements"
)

// HandleGetUserAccount returns account information for the authenticated user,
// including the entitlement plan and the features it currently unlocks.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	stats, err := repo.GetBillingStatsByUserID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load statistics"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings"})
	}

	plan := entitlements.Plan(settings.Plan)
	if plan == "" {
		plan = entitlements.PlanFree
	}
	allowLossless, allowOffline, adFree := entitlements.AllowedFeatures(plan)
	lossless, offlineSync := entitlements.EffectiveFeatures(settings)

	response := fiber.Map{
		"id":                   account.ID,
		"username":             account.Name,
		"email":                account.Email,
		"status":               account.Status,
		"plan":                 string(plan),
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(account.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(settings.APIKeyLastUsedAt),
		"billing": fiber.Map{
			"invoice_count":    stats.InvoiceCount,
			"total_paid_cents": stats.TotalPaidCents,
			"first_paid_at":    stats.FirstPaidAt,
		},
		"features": fiber.Map{
			"lossless_audio": lossless,
			"offline_sync":   offlineSync,
			"ad_free":        adFree,
		},
		"plan_allows": fiber.Map{
			"lossless_audio": allowLossless,
			"offline_sync":   allowOffline,
			"ad_free":        adFree,
		},
		"preferences": fiber.Map{
			"lossless_audio": settings.PrefLosslessAudio,
			"offline_sync":   settings.PrefOfflineSync,
			"invoice_emails": settings.PrefInvoiceEmails,
		},
	}

	return c.JSON(response)
}

type updatePreferencesRequest struct {
	LosslessAudio *bool `json:"lossless_audio"`
	OfflineSync   *bool `json:"offline_sync"`
	InvoiceEmails *bool `json:"invoice_emails"`
}

// HandleUpdateUserPreferences updates listening and mail preferences. Only
// fields present in the body change; the plan decides whether a preference
// actually takes effect.
func HandleUpdateUserPreferences(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req updatePreferencesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}

	db := database.GetDB()
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings"})
	}

	if req.LosslessAudio != nil {
		settings.PrefLosslessAudio = *req.LosslessAudio
	}
	if req.OfflineSync != nil {
		settings.PrefOfflineSync = *req.OfflineSync
	}
	if req.InvoiceEmails != nil {
		settings.PrefInvoiceEmails = *req.InvoiceEmails
	}

	if err := db.Save(settings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to save preferences", "detail": errorDetail(err)})
	}

	lossless, offlineSync := entitlements.EffectiveFeatures(settings)
	return c.JSON(fiber.Map{
		"preferences": fiber.Map{
			"lossless_audio": settings.PrefLosslessAudio,
			"offline_sync":   settings.PrefOfflineSync,
			"invoice_emails": settings.PrefInvoiceEmails,
		},
		"features": fiber.Map{
			"lossless_audio": lossless,
			"offline_sync":   offlineSync,
		},
	})
}
