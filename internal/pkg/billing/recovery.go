package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/env"
)

// recoveryWait blocks once for the configured bounded wait. Recovery
// operations never loop; they wait at most once and re-check once.
func recoveryWait(ctx context.Context) {
	seconds := env.GetEnvInt("BILLING_RECOVERY_WAIT", 10)
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
	case <-ctx.Done():
	}
}

// ConfirmSubscription re-fetches the provider record for the caller's
// subscription and syncs it locally. An incomplete subscription whose latest
// payment already succeeded gets one bounded wait and one re-check before the
// result is reported.
func (s *Service) ConfirmSubscription(ctx context.Context, userID uint) (*StatusView, error) {
	sub, err := s.ownSubscription(userID)
	if err != nil {
		return nil, err
	}

	ps, err := s.gateway.GetSubscription(ctx, sub.ExternalID)
	if err != nil {
		return nil, err
	}

	status := normalizeProviderStatus(ps.Status)
	if status == models.SubscriptionStatusIncomplete && ps.LatestPaymentStatus == "succeeded" {
		log.Infof("[Billing] Subscription %s incomplete with settled payment, waiting for provider to catch up", sub.ExternalID)
		s.wait(ctx)
		if refetched, err := s.gateway.GetSubscription(ctx, sub.ExternalID); err == nil {
			ps = refetched
		}
	}

	synced, err := s.SyncProviderSubscription(ctx, ps)
	if err != nil {
		return nil, err
	}
	return s.LocalSummary(synced), nil
}

// FixSubscriptionStatus scans the customer's recent charges and payment
// intents for a settled payment belonging to the subscription. A hit forces
// the local record to active and records the payment occurrence; the invoice
// dedup key keeps this exactly-once even when the webhook already did it.
// The returned bool reports whether a matching payment was found.
func (s *Service) FixSubscriptionStatus(ctx context.Context, userID uint) (*StatusView, bool, error) {
	sub, err := s.ownSubscription(userID)
	if err != nil {
		return nil, false, err
	}
	customerID := sub.CustomerRef
	if customerID == "" {
		account, err := s.repo.GetBillingAccountByUser(userID, models.BillingProviderStripe)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, false, ErrNoLinkedCustomer
			}
			return nil, false, err
		}
		customerID = account.ProviderCustomerID
	}

	payments, err := s.gateway.ListRecentPayments(ctx, customerID, 10)
	if err != nil {
		return nil, false, err
	}

	var match *ProviderPayment
	for i := range payments {
		if payments[i].Succeeded && paymentMatchesSubscription(&payments[i], sub.ExternalID) {
			match = &payments[i]
			break
		}
	}
	if match == nil {
		return s.LocalSummary(sub), false, nil
	}

	// Prefer the provider's current period end, then the billed period from
	// the payment, then the interval fallback.
	periodEnd := match.PeriodEnd
	if ps, err := s.gateway.GetSubscription(ctx, sub.ExternalID); err == nil && ps.CurrentPeriodEnd != nil {
		periodEnd = ps.CurrentPeriodEnd
	}

	paidAt := match.CreatedAt
	synced, err := s.mutateByExternalID(ctx, sub.ExternalID, func(m *models.Subscription) {
		m.Status = models.SubscriptionStatusActive
		if periodEnd != nil {
			m.CurrentPeriodEnd = periodEnd
		}
		m.PaymentDate = &paidAt
		ensurePeriodEnd(m, s.now())
	})
	if err != nil {
		return nil, true, err
	}

	if _, _, err := s.RecordPaymentOccurrence(ctx, synced, match.Ref, match.AmountCents, match.Currency, match.PeriodStart, match.PeriodEnd, paidAt); err != nil {
		return nil, true, err
	}
	return s.LocalSummary(synced), true, nil
}

// paymentMatchesSubscription correlates a payment to a subscription by
// metadata tag, direct invoice linkage or description substring.
func paymentMatchesSubscription(p *ProviderPayment, externalID string) bool {
	if externalID == "" {
		return false
	}
	if p.Metadata["subscription_id"] == externalID {
		return true
	}
	if p.SubscriptionID == externalID {
		return true
	}
	return strings.Contains(p.Description, externalID)
}

// ForceActivateSubscription sets the local record to active regardless of the
// provider state. The period end is kept when still in the future, otherwise
// taken from the provider or the interval fallback. Clearing
// cancel_at_period_end provider-side is best effort.
func (s *Service) ForceActivateSubscription(ctx context.Context, userID uint) (*StatusView, error) {
	sub, err := s.ownSubscription(userID)
	if err != nil {
		return nil, err
	}

	var providerEnd *time.Time
	if ps, err := s.gateway.GetSubscription(ctx, sub.ExternalID); err == nil {
		providerEnd = ps.CurrentPeriodEnd
	}

	now := s.now()
	synced, err := s.mutateByExternalID(ctx, sub.ExternalID, func(m *models.Subscription) {
		m.Status = models.SubscriptionStatusActive
		m.CancelAtPeriodEnd = false
		m.AutoDebit = true
		if m.CurrentPeriodEnd == nil || !m.CurrentPeriodEnd.After(now) {
			m.CurrentPeriodEnd = providerEnd
		}
		ensurePeriodEnd(m, now)
	})
	if err != nil {
		return nil, err
	}

	if _, err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.ExternalID, false); err != nil {
		log.Warnf("[Billing] Could not clear cancel_at_period_end for %s: %v", sub.ExternalID, err)
	}
	return s.LocalSummary(synced), nil
}

// UpdatePaymentMethod attaches a new payment method, makes it the default on
// customer and subscription, and tries to settle a still-incomplete
// subscription by paying its latest open invoice with the new method.
func (s *Service) UpdatePaymentMethod(ctx context.Context, userID uint, paymentMethodID string) (*StatusView, error) {
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return nil, errors.New("payment_method_id is required")
	}

	sub, err := s.ownSubscription(userID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.GetBillingAccountByUser(userID, models.BillingProviderStripe)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoLinkedCustomer
		}
		return nil, err
	}

	if err := s.gateway.AttachPaymentMethod(ctx, account.ProviderCustomerID, paymentMethodID); err != nil {
		return nil, err
	}
	if err := s.gateway.SetDefaultPaymentMethod(ctx, account.ProviderCustomerID, sub.ExternalID, paymentMethodID); err != nil {
		return nil, err
	}

	account.DefaultPaymentMethodID = paymentMethodID
	if err := s.repo.UpsertBillingAccount(account); err != nil {
		log.Warnf("[Billing] Could not persist default payment method for user %d: %v", userID, err)
	}

	ps, err := s.gateway.GetSubscription(ctx, sub.ExternalID)
	if err != nil {
		return nil, err
	}

	if normalizeProviderStatus(ps.Status) == models.SubscriptionStatusIncomplete {
		if err := s.gateway.PayLatestOpenInvoice(ctx, sub.ExternalID, paymentMethodID); err != nil {
			log.Warnf("[Billing] Paying open invoice for %s failed: %v", sub.ExternalID, err)
		}
		s.wait(ctx)
		if refetched, err := s.gateway.GetSubscription(ctx, sub.ExternalID); err == nil {
			ps = refetched
		}
	}

	synced, err := s.SyncProviderSubscription(ctx, ps)
	if err != nil {
		return nil, err
	}
	return s.LocalSummary(synced), nil
}

// ownSubscription loads the caller's subscription and requires a provider
// linkage.
func (s *Service) ownSubscription(userID uint) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSubscription
		}
		return nil, err
	}
	if !sub.HasExternalID() {
		return nil, ErrNoSubscription
	}
	return sub, nil
}
