package billing

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/entitlements"
)

// GetStatus merges the local record with the provider's view into one
// reported status. Provider lookup failures surface as errors, never as
// silently stale data.
func (s *Service) GetStatus(ctx context.Context, userID uint) (*StatusView, error) {
	_, _, view, err := s.reconcile(ctx, userID)
	return view, err
}

// GetDetails extends the merged status with the countdown fields and the raw
// provider-side values it was derived from.
func (s *Service) GetDetails(ctx context.Context, userID uint) (*DetailsView, error) {
	_, ps, view, err := s.reconcile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	details := &DetailsView{
		StatusView:     *view,
		RemainingDays:  entitlements.RemainingDays(view.CurrentPeriodEnd, now),
		ValidityStatus: string(entitlements.ValidityFor(view.CurrentPeriodEnd, now)),
	}
	if ps != nil {
		details.ProviderStatus = ps.Status
		details.ProviderPeriodEnd = ps.CurrentPeriodEnd
	}
	return details, nil
}

// reconcile implements the merge:
//  1. no local record or no external id reports "none"
//  2. provider lookup; record gone resolves to the local terminal status,
//     otherwise canceled
//  3. tie-break: local active beats the provider, otherwise the provider wins
//  4. active/trialing means entitled
//  5. a period end in the past overrides everything to expired
//  6. the reported period end prefers the local value
func (s *Service) reconcile(ctx context.Context, userID uint) (*models.Subscription, *ProviderSubscription, *StatusView, error) {
	sub, err := s.repo.GetSubscriptionByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, noneView(), nil
		}
		return nil, nil, nil, err
	}
	if !sub.HasExternalID() {
		return sub, nil, noneView(), nil
	}

	var ps *ProviderSubscription
	resolved := ""

	ps, err = s.gateway.GetSubscription(ctx, sub.ExternalID)
	switch {
	case err == nil:
		if sub.Status == models.SubscriptionStatusActive {
			resolved = models.SubscriptionStatusActive
		} else {
			resolved = normalizeProviderStatus(ps.Status)
		}
	case errors.Is(err, ErrSubscriptionNotFound):
		ps = nil
		if sub.IsTerminal() {
			resolved = sub.Status
		} else {
			resolved = models.SubscriptionStatusCanceled
		}
	default:
		return nil, nil, nil, err
	}

	isActive := resolved == models.SubscriptionStatusActive || resolved == models.SubscriptionStatusTrialing

	referenceEnd := sub.CurrentPeriodEnd
	if ps != nil && ps.CurrentPeriodEnd != nil {
		referenceEnd = ps.CurrentPeriodEnd
	}
	if referenceEnd != nil && referenceEnd.Before(s.now()) {
		resolved = models.SubscriptionStatusExpired
		isActive = false
	}

	reportedEnd := sub.CurrentPeriodEnd
	if reportedEnd == nil && ps != nil {
		reportedEnd = ps.CurrentPeriodEnd
	}

	view := &StatusView{
		Status:            resolved,
		IsActive:          isActive,
		Plan:              normalizePlan(sub.InternalPlan),
		Interval:          sub.Interval,
		CurrentPeriodEnd:  reportedEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		AutoDebit:         sub.AutoDebit,
		PaymentDate:       sub.PaymentDate,
		Provider:          sub.Provider,
		ExternalID:        sub.ExternalID,
	}
	return sub, ps, view, nil
}

// LocalSummary reports the stored state without a provider round trip. Used
// after mutations that already synced with the provider.
func (s *Service) LocalSummary(sub *models.Subscription) *StatusView {
	if sub == nil {
		return noneView()
	}
	status := sub.Status
	isActive := status == models.SubscriptionStatusActive || status == models.SubscriptionStatusTrialing
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(s.now()) {
		status = models.SubscriptionStatusExpired
		isActive = false
	}
	return &StatusView{
		Status:            status,
		IsActive:          isActive,
		Plan:              normalizePlan(sub.InternalPlan),
		Interval:          sub.Interval,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		AutoDebit:         sub.AutoDebit,
		PaymentDate:       sub.PaymentDate,
		Provider:          sub.Provider,
		ExternalID:        sub.ExternalID,
	}
}

func noneView() *StatusView {
	return &StatusView{
		Status:   models.SubscriptionStatusNone,
		IsActive: false,
		Plan:     string(entitlements.PlanFree),
	}
}
