package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Recovery operations run longer than normal requests because they may
// include one bounded wait on the provider.
const recoveryRequestTimeout = 30 * time.Second

// HandleRecoveryConfirm re-checks a freshly created subscription after the
// client-side payment confirmation.
func HandleRecoveryConfirm(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryRequestTimeout)
	defer cancel()

	view, err := billingService().ConfirmSubscription(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(view)
}

// HandleRecoveryFixStatus correlates recent provider payments against the
// caller's subscription and repairs a stuck incomplete state.
func HandleRecoveryFixStatus(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryRequestTimeout)
	defer cancel()

	view, found, err := billingService().FixSubscriptionStatus(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(fiber.Map{"payment_found": found, "subscription": view})
}

// HandleRecoveryForceActivate forces the local record active. It only ever
// touches the caller's own subscription.
func HandleRecoveryForceActivate(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryRequestTimeout)
	defer cancel()

	view, err := billingService().ForceActivateSubscription(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(view)
}

type updatePaymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required"`
}

// HandleRecoveryUpdatePaymentMethod swaps the payment method and, for an
// incomplete subscription, retries the open invoice with it.
func HandleRecoveryUpdatePaymentMethod(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req updatePaymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := requestValidator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "payment_method_id is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), recoveryRequestTimeout)
	defer cancel()

	view, err := billingService().UpdatePaymentMethod(ctx, userCtx.UserID, req.PaymentMethodID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(view)
}
