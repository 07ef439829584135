package entitlements

import (
	"math"
	"strings"
	"time"

	"github.com/MartinSeiffert/KlangFox/app/models"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanPremium    Plan = "premium"
	PlanPremiumMax Plan = "premium_max"
)

// Validity is the coarse four-tier view of how much paid time is left.
type Validity string

const (
	ValidityGood     Validity = "good"
	ValidityWarning  Validity = "warning"
	ValidityCritical Validity = "critical"
	ValidityExpired  Validity = "expired"
)

// AllowedFeatures returns which premium listening features a plan unlocks.
func AllowedFeatures(plan Plan) (lossless, offlineSync, adFree bool) {
	switch plan {
	case PlanPremiumMax:
		return true, true, true
	case PlanPremium:
		return false, true, true
	default:
		return false, false, false
	}
}

// EffectiveFeatures combines the user plan and user preferences to compute
// final booleans for lossless streaming and offline sync. A feature is only
// on when the plan allows it and the user opted in.
func EffectiveFeatures(us *models.UserSettings) (lossless, offlineSync bool) {
	p := Plan(strings.ToLower(us.Plan))
	allowLossless, allowOffline, _ := AllowedFeatures(p)

	return allowLossless && us.PrefLosslessAudio,
		allowOffline && us.PrefOfflineSync
}

// RemainingDays returns the number of whole days until periodEnd, rounded
// up and clamped to zero. A nil periodEnd counts as already expired.
func RemainingDays(periodEnd *time.Time, now time.Time) int {
	if periodEnd == nil {
		return 0
	}
	remaining := periodEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// ValidityFor maps the remaining paid time onto the four warning tiers:
// more than 7 days is good, 4-7 warning, 1-3 critical, none left expired.
func ValidityFor(periodEnd *time.Time, now time.Time) Validity {
	days := RemainingDays(periodEnd, now)
	switch {
	case days > 7:
		return ValidityGood
	case days >= 4:
		return ValidityWarning
	case days >= 1:
		return ValidityCritical
	default:
		return ValidityExpired
	}
}
