package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/constants"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/database"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/documents"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/env"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/mail"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/s3archive"
)

// EnqueueInvoiceDelivery schedules the asynchronous PDF rendering, archival
// and mail delivery for an invoice. Satisfies the billing package's scheduler
// interface.
func (q *Queue) EnqueueInvoiceDelivery(ctx context.Context, invoiceID uint) error {
	payload := InvoiceDeliveryJobPayload{InvoiceID: invoiceID}
	_, err := q.EnqueueJob(JobTypeInvoiceDelivery, payload.ToMap())
	return err
}

// processInvoiceDeliveryJob renders the invoice PDF, archives it and mails
// the customer a download link. The job is idempotent: an invoice whose mail
// already went out is skipped, and replays after a partial failure pick up
// where the previous attempt stopped.
func (q *Queue) processInvoiceDeliveryJob(ctx context.Context, job *Job) error {
	payload, err := InvoiceDeliveryJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid invoice delivery payload: %w", err)
	}

	db := database.GetDB()
	if db == nil {
		return fmt.Errorf("database not available")
	}

	var invoice models.Invoice
	if err := db.First(&invoice, payload.InvoiceID).Error; err != nil {
		return fmt.Errorf("failed to load invoice %d: %w", payload.InvoiceID, err)
	}

	if invoice.EmailSent {
		log.Debugf("[JobQueue] Invoice %s already delivered, skipping", invoice.Number)
		return nil
	}

	var user models.User
	if err := db.First(&user, invoice.UserID).Error; err != nil {
		return fmt.Errorf("failed to load user %d for invoice %s: %w", invoice.UserID, invoice.Number, err)
	}

	if !invoiceMailsWanted(db, &user) {
		log.Infof("[JobQueue] Invoice mails disabled for user %d, marking %s as handled", user.ID, invoice.Number)
		invoice.MarkEmailSent(time.Now())
		return db.Save(&invoice).Error
	}

	siteTitle := "KlangFox"
	if settings := models.GetAppSettings(); settings != nil {
		siteTitle = settings.GetSiteTitle()
	}

	// Render and archive the PDF first so the mail only links to documents
	// that actually exist.
	if invoice.PDFObjectKey == "" {
		objectKey, aerr := q.archiveInvoicePDF(ctx, &invoice, &user, siteTitle)
		if aerr != nil {
			return q.recordDeliveryFailure(db, &invoice, fmt.Errorf("archive: %w", aerr))
		}
		invoice.PDFObjectKey = objectKey
		if err := db.Save(&invoice).Error; err != nil {
			return fmt.Errorf("failed to persist object key for invoice %s: %w", invoice.Number, err)
		}
	}

	subject, body := mail.BuildInvoiceMail(mail.InvoiceMailData{
		RecipientName: user.Name,
		InvoiceNumber: invoice.Number,
		Plan:          invoice.Plan,
		AmountDisplay: invoice.AmountDisplay(),
		IssuedAt:      invoice.IssuedAt,
		DownloadURL:   invoiceDownloadURL(invoice.Number),
		SiteTitle:     siteTitle,
	})

	if err := mail.SendMail(user.Email, subject, body); err != nil {
		return q.recordDeliveryFailure(db, &invoice, fmt.Errorf("send mail: %w", err))
	}

	invoice.MarkEmailSent(time.Now())
	invoice.EmailError = ""
	if err := db.Save(&invoice).Error; err != nil {
		return fmt.Errorf("failed to mark invoice %s as sent: %w", invoice.Number, err)
	}

	log.Infof("[JobQueue] Delivered invoice %s to user %d", invoice.Number, user.ID)
	return nil
}

// archiveInvoicePDF renders the PDF and uploads it to the archive bucket.
// With the archive disabled the rendering is skipped entirely and the mail
// goes out without a download link.
func (q *Queue) archiveInvoicePDF(ctx context.Context, invoice *models.Invoice, user *models.User, siteTitle string) (string, error) {
	client, err := s3archive.GetClient()
	if err != nil {
		return "", err
	}
	if client == nil {
		log.Debugf("[JobQueue] S3 archive disabled, skipping PDF for invoice %s", invoice.Number)
		return "", nil
	}

	pdf, err := documents.RenderInvoicePDF(documents.InvoiceData{
		Number:        invoice.Number,
		CustomerName:  user.Name,
		CustomerEmail: user.Email,
		Plan:          invoice.Plan,
		AmountDisplay: invoice.AmountDisplay(),
		IssuedAt:      invoice.IssuedAt,
		PeriodStart:   invoice.PeriodStart,
		PeriodEnd:     invoice.PeriodEnd,
		SiteTitle:     siteTitle,
	})
	if err != nil {
		return "", err
	}

	objectKey := client.Config().GetInvoiceObjectKey(invoice.Number, invoice.IssuedAt)
	if _, err := client.UploadBytes(ctx, objectKey, pdf, "application/pdf"); err != nil {
		return "", err
	}
	return objectKey, nil
}

// recordDeliveryFailure stores the failure reason on the invoice and returns
// the error so the queue retries the job.
func (q *Queue) recordDeliveryFailure(db *gorm.DB, invoice *models.Invoice, cause error) error {
	invoice.EmailError = cause.Error()
	if err := db.Save(invoice).Error; err != nil {
		log.Errorf("[JobQueue] Failed to record delivery error for invoice %s: %v", invoice.Number, err)
	}
	return cause
}

// invoiceMailsWanted checks the global toggle and the user's preference.
func invoiceMailsWanted(db *gorm.DB, user *models.User) bool {
	if settings := models.GetAppSettings(); settings != nil && !settings.AreInvoiceEmailsEnabled() {
		return false
	}
	us, err := models.GetOrCreateUserSettings(db, user.ID)
	if err != nil {
		log.Warnf("[JobQueue] Could not load settings for user %d, sending mail anyway: %v", user.ID, err)
		return true
	}
	return us.PrefInvoiceEmails
}

// invoiceDownloadURL builds the absolute link used in the mail.
func invoiceDownloadURL(invoiceNumber string) string {
	domain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:3000")
	return fmt.Sprintf("%s%s/invoices/%s/pdf", domain, constants.APIV1Route, invoiceNumber)
}
