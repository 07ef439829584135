package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/billing"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/env"
)

// HandleStripeWebhook receives provider webhook deliveries. The contract with
// the provider: 400 only for signature failures, 200 for everything else so
// the provider does not retry events we have already stored.
func HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	sigHeader := c.Get("Stripe-Signature")
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")

	// Verification happens before anything is written. An unverified payload
	// must not leave a trace.
	event, err := billing.VerifyWebhook(rawBody, sigHeader, secret)
	if err != nil {
		log.Warnf("[Billing] Webhook signature verification failed: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	created, stored, err := svc.RecordWebhookEvent(ctx, billing.WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Errorf("[Billing] Failed to persist webhook event %s: %v", event.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}

	dispatchErr := eventDispatcher().Dispatch(ctx, billing.Event{
		ID:       event.ID,
		Type:     billing.EventType(event.Type),
		Payload:  event.Data.Raw,
		RecordID: stored.ID,
	})
	if err := svc.MarkWebhookProcessed(ctx, stored.ID, dispatchErr); err != nil {
		log.Errorf("[Billing] Failed to mark webhook event %d processed: %v", stored.ID, err)
	}
	if dispatchErr != nil {
		// The event is stored and can be replayed; acknowledge so the
		// provider does not hammer us with redeliveries.
		log.Errorf("[Billing] Webhook event %s processing failed: %v", event.ID, dispatchErr)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}
