package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
)

// HandlerFunc processes one verified webhook event. Handlers must be
// idempotent: redelivered events re-assert the same values and must not
// re-trigger side effects.
type HandlerFunc func(ctx context.Context, evt Event) error

// Dispatcher routes verified webhook events to their typed handlers.
// Unrecognized event types are acknowledged without effect.
type Dispatcher struct {
	svc      *Service
	handlers map[EventType]HandlerFunc
}

// NewDispatcher builds the dispatcher with the full handler table.
func NewDispatcher(svc *Service) *Dispatcher {
	d := &Dispatcher{
		svc:      svc,
		handlers: make(map[EventType]HandlerFunc),
	}
	d.handlers[EventSubscriptionCreated] = d.handleSubscriptionUpsert
	d.handlers[EventSubscriptionUpdated] = d.handleSubscriptionUpsert
	d.handlers[EventSubscriptionDeleted] = d.handleSubscriptionDeleted
	d.handlers[EventInvoicePaymentSucceeded] = d.handleInvoicePaymentSucceeded
	d.handlers[EventInvoicePaymentFailed] = d.handleInvoicePaymentFailed
	d.handlers[EventPaymentIntentSucceeded] = d.handlePaymentIntentSucceeded
	d.handlers[EventChargeSucceeded] = d.handleChargeSucceeded
	return d
}

// Dispatch runs the handler registered for the event type. Unknown types are
// a successful no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	handler, ok := d.handlers[evt.Type]
	if !ok {
		log.Debugf("[Billing] Ignoring unhandled event type %s (%s)", evt.Type, evt.ID)
		return nil
	}
	return handler(ctx, evt)
}

// handleSubscriptionUpsert covers created and updated events: the provider
// payload overwrites local status, period end and cancel flag.
func (d *Dispatcher) handleSubscriptionUpsert(ctx context.Context, evt Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(evt.Payload, &sub); err != nil {
		return fmt.Errorf("parse subscription payload: %w", err)
	}

	ps := normalizeStripeSubscription(&sub)
	ps.RawPayloadJSON = string(evt.Payload)

	if _, err := d.svc.SyncProviderSubscription(ctx, ps); err != nil {
		if errors.Is(err, ErrNoLinkedCustomer) {
			log.Infof("[Billing] Event %s for unlinked customer, skipping", evt.ID)
			return nil
		}
		return err
	}
	return nil
}

func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, evt Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(evt.Payload, &sub); err != nil {
		return fmt.Errorf("parse subscription payload: %w", err)
	}

	if _, err := d.svc.MarkSubscriptionCanceled(ctx, sub.ID); err != nil {
		if errors.Is(err, ErrNoSubscription) {
			log.Infof("[Billing] Delete event %s for unknown subscription %s, skipping", evt.ID, sub.ID)
			return nil
		}
		return err
	}
	return nil
}

func (d *Dispatcher) handleInvoicePaymentSucceeded(ctx context.Context, evt Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(evt.Payload, &inv); err != nil {
		return fmt.Errorf("parse invoice payload: %w", err)
	}
	if inv.Subscription == nil {
		log.Debugf("[Billing] Invoice event %s is not subscription-linked, skipping", evt.ID)
		return nil
	}

	paidAt := time.Now()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0)
	}
	periodStart, periodEnd := invoiceLinePeriod(&inv)

	sub, err := d.svc.ApplyPaymentSucceeded(ctx, inv.Subscription.ID, paidAt, periodEnd)
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			log.Infof("[Billing] Payment event %s for unknown subscription %s, skipping", evt.ID, inv.Subscription.ID)
			return nil
		}
		return err
	}

	ref := inv.ID
	if inv.PaymentIntent != nil {
		ref = inv.PaymentIntent.ID
	}
	_, _, err = d.svc.RecordPaymentOccurrence(ctx, sub, ref, inv.AmountPaid, string(inv.Currency), periodStart, periodEnd, paidAt)
	return err
}

func (d *Dispatcher) handleInvoicePaymentFailed(ctx context.Context, evt Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(evt.Payload, &inv); err != nil {
		return fmt.Errorf("parse invoice payload: %w", err)
	}
	if inv.Subscription == nil {
		return nil
	}

	if _, err := d.svc.MarkSubscriptionPastDue(ctx, inv.Subscription.ID); err != nil {
		if errors.Is(err, ErrNoSubscription) {
			log.Infof("[Billing] Failed-payment event %s for unknown subscription %s, skipping", evt.ID, inv.Subscription.ID)
			return nil
		}
		return err
	}
	return nil
}

func (d *Dispatcher) handlePaymentIntentSucceeded(ctx context.Context, evt Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Payload, &pi); err != nil {
		return fmt.Errorf("parse payment intent payload: %w", err)
	}
	if pi.Invoice == nil && pi.Metadata["subscription_id"] == "" {
		log.Debugf("[Billing] Payment intent event %s is not subscription-linked, skipping", evt.ID)
		return nil
	}
	customerID := ""
	if pi.Customer != nil {
		customerID = pi.Customer.ID
	}
	paidAt := time.Unix(pi.Created, 0)
	return d.applyOutOfBandPayment(ctx, evt, customerID, pi.Metadata, pi.ID, pi.Amount, string(pi.Currency), paidAt, false)
}

// handleChargeSucceeded is the strongest payment signal: a settled charge
// while the provider still reports incomplete reclassifies the subscription
// to active.
func (d *Dispatcher) handleChargeSucceeded(ctx context.Context, evt Event) error {
	var ch stripe.Charge
	if err := json.Unmarshal(evt.Payload, &ch); err != nil {
		return fmt.Errorf("parse charge payload: %w", err)
	}
	if ch.Invoice == nil && ch.Metadata["subscription_id"] == "" {
		log.Debugf("[Billing] Charge event %s is not subscription-linked, skipping", evt.ID)
		return nil
	}
	customerID := ""
	if ch.Customer != nil {
		customerID = ch.Customer.ID
	}
	ref := ch.ID
	if ch.PaymentIntent != nil {
		ref = ch.PaymentIntent.ID
	}
	paidAt := time.Unix(ch.Created, 0)
	return d.applyOutOfBandPayment(ctx, evt, customerID, ch.Metadata, ref, ch.Amount, string(ch.Currency), paidAt, true)
}

// applyOutOfBandPayment handles subscription payments that arrive as bare
// payment events. Callers have already established that the payment belongs
// to a subscription invoice; this resolves which subscription via metadata or
// the customer linkage, re-fetches the provider record and records the
// payment occurrence.
func (d *Dispatcher) applyOutOfBandPayment(ctx context.Context, evt Event, customerID string, metadata map[string]string, ref string, amountCents int64, currency string, paidAt time.Time, reclassifyIncomplete bool) error {
	externalID := metadata["subscription_id"]
	if externalID == "" {
		sub, err := d.findSubscriptionByCustomer(customerID)
		if err != nil {
			return err
		}
		if sub == nil || !sub.HasExternalID() {
			log.Debugf("[Billing] Payment event %s has no subscription linkage, skipping", evt.ID)
			return nil
		}
		externalID = sub.ExternalID
	}

	ps, err := d.svc.gateway.GetSubscription(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			log.Infof("[Billing] Payment event %s references vanished subscription %s, skipping", evt.ID, externalID)
			return nil
		}
		return err
	}

	if reclassifyIncomplete && normalizeProviderStatus(ps.Status) == models.SubscriptionStatusIncomplete {
		ps.Status = models.SubscriptionStatusActive
	}

	sub, err := d.svc.SyncProviderSubscription(ctx, ps)
	if err != nil {
		if errors.Is(err, ErrNoLinkedCustomer) {
			log.Infof("[Billing] Payment event %s for unlinked customer, skipping", evt.ID)
			return nil
		}
		return err
	}

	sub, err = d.svc.mutateByExternalID(ctx, sub.ExternalID, func(s *models.Subscription) {
		s.PaymentDate = &paidAt
	})
	if err != nil {
		return err
	}

	_, _, err = d.svc.RecordPaymentOccurrence(ctx, sub, ref, amountCents, currency, ps.CurrentPeriodStart, ps.CurrentPeriodEnd, paidAt)
	return err
}

func (d *Dispatcher) findSubscriptionByCustomer(customerID string) (*models.Subscription, error) {
	if customerID == "" {
		return nil, nil
	}
	account, err := d.svc.repo.GetBillingAccountByCustomer(models.BillingProviderStripe, customerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sub, err := d.svc.repo.GetSubscriptionByUserID(account.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}
