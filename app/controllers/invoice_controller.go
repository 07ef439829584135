package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/app/repository"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/documents"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/s3archive"
)

// HandleListInvoices returns the caller's invoices, newest first.
func HandleListInvoices(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	invoices, err := billingService().ListInvoices(ctx, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load invoices", "detail": errorDetail(err)})
	}

	items := make([]fiber.Map, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, fiber.Map{
			"number":       inv.Number,
			"amount_cents": inv.AmountCents,
			"currency":     inv.Currency,
			"plan":         inv.Plan,
			"status":       inv.Status,
			"issued_at":    inv.IssuedAt.UTC().Format(time.RFC3339),
			"period_start": formatTimePtr(inv.PeriodStart),
			"period_end":   formatTimePtr(inv.PeriodEnd),
			"email_sent":   inv.EmailSent,
		})
	}
	return c.JSON(fiber.Map{"invoices": items, "count": len(items)})
}

// HandleDownloadInvoicePDF streams the invoice document. The archived copy is
// preferred; without one the PDF is rendered on the fly.
func HandleDownloadInvoicePDF(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	number := c.Params("number")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	inv, err := billingService().GetInvoiceForUser(ctx, userCtx.UserID, number)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Invoice not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load invoice", "detail": errorDetail(err)})
	}

	pdf, err := loadOrRenderInvoicePDF(ctx, inv)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to produce invoice document", "detail": errorDetail(err)})
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", inv.Number+".pdf"))
	return c.Send(pdf)
}

func loadOrRenderInvoicePDF(ctx context.Context, inv *models.Invoice) ([]byte, error) {
	if inv.PDFObjectKey != "" {
		client, err := s3archive.GetClient()
		if err == nil && client != nil {
			data, derr := client.DownloadBytes(ctx, inv.PDFObjectKey)
			if derr == nil {
				return data, nil
			}
			log.Warnf("[Billing] Archived PDF for invoice %s unavailable, re-rendering: %v", inv.Number, derr)
		}
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(inv.UserID)
	if err != nil {
		return nil, err
	}

	siteTitle := ""
	if settings := models.GetAppSettings(); settings != nil {
		siteTitle = settings.GetSiteTitle()
	}

	return documents.RenderInvoicePDF(documents.InvoiceData{
		Number:        inv.Number,
		CustomerName:  user.Name,
		CustomerEmail: user.Email,
		Plan:          inv.Plan,
		AmountDisplay: inv.AmountDisplay(),
		IssuedAt:      inv.IssuedAt,
		PeriodStart:   inv.PeriodStart,
		PeriodEnd:     inv.PeriodEnd,
		SiteTitle:     siteTitle,
	})
}
