package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/MartinSeiffert/KlangFox/internal/pkg/billing"
)

const subscriptionRequestTimeout = 15 * time.Second

var requestValidator = validator.New()

// HandleGetSubscription returns the merged local+provider subscription state.
func HandleGetSubscription(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscriptionRequestTimeout)
	defer cancel()

	view, err := billingService().GetStatus(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(view)
}

// HandleGetSubscriptionDetails returns the countdown view with raw provider fields.
func HandleGetSubscriptionDetails(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscriptionRequestTimeout)
	defer cancel()

	details, err := billingService().GetDetails(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(details)
}

type createSubscriptionRequest struct {
	Plan     string `json:"plan" validate:"required,oneof=premium premium_max"`
	Interval string `json:"interval" validate:"required,oneof=month year"`
}

// HandleCreateSubscription starts a checkout for the requested plan. An
// already-active subscription short-circuits into its current summary.
func HandleCreateSubscription(c *fiber.Ctx) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	var req createSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := requestValidator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "plan must be premium or premium_max, interval month or year"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscriptionRequestTimeout)
	defer cancel()

	result, err := billingService().StartCheckout(ctx, userCtx.UserID, req.Plan, req.Interval)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrCheckoutDisabled):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "checkout_disabled", "message": "New subscriptions are currently disabled"})
		case errors.Is(err, billing.ErrPlanNotMapped):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "plan_not_available", "message": "The requested plan is not available"})
		default:
			return subscriptionError(c, err)
		}
	}

	if result.AlreadyActive {
		view, verr := billingService().GetStatus(ctx, userCtx.UserID)
		if verr != nil {
			return subscriptionError(c, verr)
		}
		return c.JSON(fiber.Map{"already_active": true, "subscription": view})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"client_secret":   result.ClientSecret,
		"subscription_id": result.SubscriptionID,
		"status":          result.Status,
	})
}

// HandleCancelSubscription schedules the cancellation at the period end.
func HandleCancelSubscription(c *fiber.Ctx) error {
	return handleCancelFlag(c, true)
}

// HandleResumeSubscription clears a scheduled cancellation.
func HandleResumeSubscription(c *fiber.Ctx) error {
	return handleCancelFlag(c, false)
}

type autoDebitRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// HandleSetAutoDebit toggles automatic renewal. Auto debit off is the same
// provider-side operation as cancel-at-period-end.
func HandleSetAutoDebit(c *fiber.Ctx) error {
	var req autoDebitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Invalid JSON body"})
	}
	if err := requestValidator.Struct(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "enabled is required"})
	}
	return handleCancelFlag(c, !*req.Enabled)
}

func handleCancelFlag(c *fiber.Ctx, cancelFlag bool) error {
	userCtx, ok := requireUser(c)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), subscriptionRequestTimeout)
	defer cancel()

	svc := billingService()
	if _, err := svc.SetCancelAtPeriodEnd(ctx, userCtx.UserID, cancelFlag); err != nil {
		return subscriptionError(c, err)
	}

	view, err := svc.GetStatus(ctx, userCtx.UserID)
	if err != nil {
		return subscriptionError(c, err)
	}
	return c.JSON(view)
}

// subscriptionError maps billing service errors onto HTTP responses.
func subscriptionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrNoSubscription), errors.Is(err, billing.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_subscription", "message": "No subscription on record"})
	case errors.Is(err, billing.ErrGatewayUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_unavailable", "message": "The billing provider could not be reached", "detail": errorDetail(err)})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Subscription operation failed", "detail": errorDetail(err)})
	}
}
