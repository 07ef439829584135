package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/entitlements"
)

// DeliveryScheduler enqueues the asynchronous invoice delivery job. The job
// queue implements this; tests inject fakes. A nil scheduler disables
// delivery without affecting payment processing.
type DeliveryScheduler interface {
	EnqueueInvoiceDelivery(ctx context.Context, invoiceID uint) error
}

// Service owns subscription state transitions. Every mutation is a locked
// read-modify-write of the full record, keyed by the external subscription id.
type Service struct {
	repo      Repository
	gateway   Gateway
	scheduler DeliveryScheduler
	locks     *keyedMutex
	now       func() time.Time
	wait      func(context.Context)
}

// NewService creates a billing service from its dependencies.
func NewService(repo Repository, gateway Gateway, scheduler DeliveryScheduler) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		scheduler: scheduler,
		locks:     newKeyedMutex(),
		now:       time.Now,
		wait:      recoveryWait,
	}
}

// NewServiceFromDB creates a billing service from a GORM handle and a gateway.
func NewServiceFromDB(db *gorm.DB, gateway Gateway, scheduler DeliveryScheduler) *Service {
	return NewService(NewRepository(db), gateway, scheduler)
}

// ResolveMappedPlan resolves a provider price reference to an internal plan.
func (s *Service) ResolveMappedPlan(ctx context.Context, provider, providerPriceRef, interval string) (string, error) {
	_ = ctx
	p := strings.ToLower(strings.TrimSpace(provider))
	ref := strings.TrimSpace(providerPriceRef)
	i := normalizeInterval(interval)
	if p == "" || ref == "" {
		return string(entitlements.PlanFree), gorm.ErrRecordNotFound
	}

	// Prefer exact interval match.
	m, err := s.repo.FindActivePlanMapping(p, ref, i)
	if err == nil {
		return normalizePlan(m.InternalPlan), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	// Fallback for mappings that intentionally use "unknown".
	m, err = s.repo.FindActivePlanMapping(p, ref, "unknown")
	if err == nil {
		return normalizePlan(m.InternalPlan), nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return string(entitlements.PlanFree), gorm.ErrRecordNotFound
	}
	return "", err
}

// SyncProviderSubscription overwrites the local record with the provider's
// view of the subscription. It links the record to a user via the billing
// account when the subscription is seen for the first time.
func (s *Service) SyncProviderSubscription(ctx context.Context, ps *ProviderSubscription) (*models.Subscription, error) {
	if ps == nil || strings.TrimSpace(ps.ID) == "" {
		return nil, errors.New("provider subscription id is required")
	}

	unlock := s.locks.Lock(ps.ID)
	defer unlock()

	sub, err := s.loadOrSeedSubscription(ps)
	if err != nil {
		return nil, err
	}

	status := normalizeProviderStatus(ps.Status)
	interval := normalizeInterval(ps.Interval)

	plan := sub.InternalPlan
	if ps.PriceRef != "" {
		mapped, err := s.ResolveMappedPlan(ctx, sub.Provider, ps.PriceRef, interval)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		plan = mapped
		sub.PlanRef = ps.PriceRef
	}

	sub.ExternalID = ps.ID
	if ps.CustomerID != "" {
		sub.CustomerRef = ps.CustomerID
	}
	sub.InternalPlan = plan
	if interval != models.SubscriptionIntervalUnknown {
		sub.Interval = interval
	}
	sub.Status = status
	sub.CurrentPeriodStart = ps.CurrentPeriodStart
	sub.CurrentPeriodEnd = ps.CurrentPeriodEnd
	sub.CancelAtPeriodEnd = ps.CancelAtPeriodEnd
	sub.AutoDebit = !ps.CancelAtPeriodEnd
	if ps.RawPayloadJSON != "" {
		sub.RawPayloadJSON = ps.RawPayloadJSON
	}
	ensurePeriodEnd(sub, s.now())

	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	if _, err := s.ReconcileUserPlan(ctx, sub.UserID); err != nil {
		return sub, err
	}
	return sub, nil
}

// loadOrSeedSubscription finds the local record the provider subscription
// belongs to. External ids are immutable once set; a new provider
// subscription may only replace one in a terminal state.
func (s *Service) loadOrSeedSubscription(ps *ProviderSubscription) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscriptionByExternalID(models.BillingProviderStripe, ps.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if ps.CustomerID == "" {
		return nil, ErrNoLinkedCustomer
	}
	account, err := s.repo.GetBillingAccountByCustomer(models.BillingProviderStripe, ps.CustomerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: customer %s", ErrNoLinkedCustomer, ps.CustomerID)
		}
		return nil, err
	}

	sub, err = s.repo.GetSubscriptionByUserID(account.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.Subscription{
			UserID:   account.UserID,
			Provider: models.BillingProviderStripe,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.HasExternalID() && sub.ExternalID != ps.ID && !sub.IsTerminal() {
		return nil, fmt.Errorf("user %d already has live subscription %s, ignoring %s",
			account.UserID, sub.ExternalID, ps.ID)
	}
	return sub, nil
}

// MarkSubscriptionCanceled records the provider-side deletion of a
// subscription. The period end is cleared, the row is kept.
func (s *Service) MarkSubscriptionCanceled(ctx context.Context, externalID string) (*models.Subscription, error) {
	return s.mutateByExternalID(ctx, externalID, func(sub *models.Subscription) {
		sub.Status = models.SubscriptionStatusCanceled
		sub.CurrentPeriodEnd = nil
	})
}

// MarkSubscriptionPastDue records a failed payment on the subscription.
func (s *Service) MarkSubscriptionPastDue(ctx context.Context, externalID string) (*models.Subscription, error) {
	return s.mutateByExternalID(ctx, externalID, func(sub *models.Subscription) {
		sub.Status = models.SubscriptionStatusPastDue
	})
}

// ApplyPaymentSucceeded moves the subscription to active after a confirmed
// payment. periodEnd nil falls back to the interval-based period from now.
func (s *Service) ApplyPaymentSucceeded(ctx context.Context, externalID string, paidAt time.Time, periodEnd *time.Time) (*models.Subscription, error) {
	return s.mutateByExternalID(ctx, externalID, func(sub *models.Subscription) {
		sub.Status = models.SubscriptionStatusActive
		if periodEnd != nil {
			sub.CurrentPeriodEnd = periodEnd
		}
		sub.PaymentDate = &paidAt
		ensurePeriodEnd(sub, s.now())
	})
}

func (s *Service) mutateByExternalID(ctx context.Context, externalID string, mutate func(*models.Subscription)) (*models.Subscription, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, errors.New("external subscription id is required")
	}

	unlock := s.locks.Lock(externalID)
	defer unlock()

	sub, err := s.repo.GetSubscriptionByExternalID(models.BillingProviderStripe, externalID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoSubscription, externalID)
		}
		return nil, err
	}

	mutate(sub)

	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, err
	}
	if _, err := s.ReconcileUserPlan(ctx, sub.UserID); err != nil {
		return sub, err
	}
	return sub, nil
}

// ensurePeriodEnd keeps the invariant that entitling statuses always carry a
// period end, falling back to the interval length when the provider gave none.
func ensurePeriodEnd(sub *models.Subscription, now time.Time) {
	if sub.CurrentPeriodEnd != nil {
		return
	}
	if !isEntitlingStatus(sub.Status) {
		return
	}
	end := now.Add(models.PeriodFallback(sub.Interval))
	sub.CurrentPeriodEnd = &end
}

// ReconcileUserPlan recomputes and persists the user's effective plan from the
// subscription state. Non-entitling statuses fall back to free.
func (s *Service) ReconcileUserPlan(ctx context.Context, userID uint) (string, error) {
	_ = ctx
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	best := string(entitlements.PlanFree)
	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err == nil && isEntitlingStatus(sub.Status) {
		best = normalizePlan(sub.InternalPlan)
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	us, err := s.repo.GetOrCreateUserSettings(userID)
	if err != nil {
		return "", err
	}
	if normalizePlan(us.Plan) == best {
		return best, nil
	}
	us.Plan = best
	if err := s.repo.SaveUserSettings(us); err != nil {
		return "", err
	}
	return best, nil
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without a
// provider id get a payload-hash fallback id so redeliveries still dedup.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	_ = ctx
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
	}
	return s.repo.CreateWebhookEventIfNotExists(event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	_ = ctx
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(webhookEventID, errMsg)
}

// RecordPaymentOccurrence writes the invoice for one successful payment and,
// only when this call actually created the row, schedules its delivery.
// Scheduling failures are logged and swallowed: payment processing must not
// fail because a mail could not be queued.
func (s *Service) RecordPaymentOccurrence(ctx context.Context, sub *models.Subscription, ref string, amountCents int64, currency string, periodStart, periodEnd *time.Time, paidAt time.Time) (bool, *models.Invoice, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false, nil, errors.New("payment reference is required")
	}
	if currency == "" {
		currency = "eur"
	}

	number, err := models.GenerateInvoiceNumber(paidAt)
	if err != nil {
		return false, nil, err
	}

	inv := &models.Invoice{
		Number:             number,
		UserID:             sub.UserID,
		SubscriptionID:     sub.ID,
		Provider:           sub.Provider,
		ProviderPaymentRef: ref,
		AmountCents:        amountCents,
		Currency:           strings.ToLower(currency),
		Plan:               sub.InternalPlan,
		Status:             models.InvoiceStatusPaid,
		PeriodStart:        periodStart,
		PeriodEnd:          periodEnd,
		IssuedAt:           paidAt,
	}

	created, stored, err := s.repo.CreateInvoiceIfNotExists(inv)
	if err != nil {
		return false, nil, err
	}
	if !created {
		return false, stored, nil
	}

	if s.scheduler != nil {
		if err := s.scheduler.EnqueueInvoiceDelivery(ctx, stored.ID); err != nil {
			log.Errorf("[Billing] Failed to enqueue delivery for invoice %s: %v", stored.Number, err)
		}
	}
	return true, stored, nil
}

// CheckoutResult is the response of a newly started subscription checkout.
type CheckoutResult struct {
	ClientSecret   string `json:"client_secret,omitempty"`
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
	AlreadyActive  bool   `json:"already_active,omitempty"`
}

// StartCheckout creates a provider-side subscription in default_incomplete
// mode and seeds the local record. Calling it while a subscription is already
// entitling returns the existing one instead of opening a second checkout.
func (s *Service) StartCheckout(ctx context.Context, userID uint, plan, interval string) (*CheckoutResult, error) {
	if settings := models.GetAppSettings(); settings != nil && !settings.IsCheckoutEnabled() {
		return nil, ErrCheckoutDisabled
	}

	if sub, err := s.repo.GetSubscriptionByUserID(userID); err == nil {
		if isEntitlingStatus(sub.Status) && sub.HasExternalID() {
			return &CheckoutResult{
				SubscriptionID: sub.ExternalID,
				Status:         sub.Status,
				AlreadyActive:  true,
			}, nil
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	mapping, err := s.repo.FindActivePlanMappingByPlan(models.BillingProviderStripe, normalizePlan(plan), normalizeInterval(interval))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrPlanNotMapped, plan, interval)
		}
		return nil, err
	}

	account, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	ps, err := s.gateway.CreateSubscription(ctx, account.ProviderCustomerID, mapping.ProviderPriceRef, map[string]string{
		"user_id": strconv.FormatUint(uint64(userID), 10),
		"plan":    mapping.InternalPlan,
	})
	if err != nil {
		return nil, err
	}

	sub, err := s.SyncProviderSubscription(ctx, ps)
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{
		ClientSecret:   ps.ClientSecret,
		SubscriptionID: sub.ExternalID,
		Status:         sub.Status,
	}, nil
}

// ensureCustomer returns the user's billing account, creating the
// provider-side customer on first use.
func (s *Service) ensureCustomer(ctx context.Context, userID uint) (*models.BillingAccount, error) {
	account, err := s.repo.GetBillingAccountByUser(userID, models.BillingProviderStripe)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.gateway.CreateCustomer(ctx, user.Email, user.Name, userID)
	if err != nil {
		return nil, err
	}

	account = &models.BillingAccount{
		UserID:             userID,
		Provider:           models.BillingProviderStripe,
		ProviderCustomerID: customerID,
		Email:              user.Email,
	}
	if err := s.repo.UpsertBillingAccount(account); err != nil {
		return nil, err
	}
	return account, nil
}

// SetCancelAtPeriodEnd flips the cancel-at-period-end flag provider-side and
// mirrors it locally (auto-debit is always the inverse). Idempotent: setting
// the flag to its current value skips the provider call.
func (s *Service) SetCancelAtPeriodEnd(ctx context.Context, userID uint, cancel bool) (*models.Subscription, error) {
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
	if sub.CancelAtPeriodEnd == cancel {
		return sub, nil
	}

	ps, err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.ExternalID, cancel)
	if err != nil {
		return nil, err
	}
	return s.SyncProviderSubscription(ctx, ps)
}
