package billing

import (
	"strings"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"github.com/MartinSeiffert/KlangFox/internal/pkg/entitlements"
)

func normalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(entitlements.PlanPremium):
		return string(entitlements.PlanPremium)
	case string(entitlements.PlanPremiumMax):
		return string(entitlements.PlanPremiumMax)
	default:
		return string(entitlements.PlanFree)
	}
}

func normalizeInterval(interval string) string {
	i := strings.ToLower(strings.TrimSpace(interval))
	switch i {
	case "month", "year":
		return i
	default:
		return "unknown"
	}
}

// normalizeProviderStatus maps provider status strings onto the local status
// set. "expired" is derived locally only and never produced here; statuses we
// do not recognize are treated as incomplete.
func normalizeProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case models.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case models.SubscriptionStatusPastDue, "unpaid":
		return models.SubscriptionStatusPastDue
	case models.SubscriptionStatusCanceled, "incomplete_expired":
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusIncomplete
	}
}

func isEntitlingStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}
