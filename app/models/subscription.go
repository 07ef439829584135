package models

import "time"

const (
	SubscriptionIntervalMonth   = "month"
	SubscriptionIntervalYear    = "year"
	SubscriptionIntervalUnknown = "unknown"
)

const (
	SubscriptionStatusNone       = "none"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusActive     = "active"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusExpired    = "expired"
)

// Subscription is the local, durable representation of a user's premium
// subscription. The billing provider owns the authoritative payment record;
// this row caches the last reconciled view of it. One row per user, never
// deleted - terminal states are kept with their final status.
type Subscription struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Provider           string     `gorm:"type:varchar(20);not null;default:'stripe';index:ux_subscriptions_provider_external,unique,priority:1" json:"provider"`
	ExternalID         string     `gorm:"type:varchar(191);not null;default:'';index:ux_subscriptions_provider_external,unique,priority:2" json:"external_id"`
	CustomerRef        string     `gorm:"type:varchar(191);not null;default:'';index" json:"customer_ref"`
	PlanRef            string     `gorm:"type:varchar(191);not null;default:''" json:"plan_ref"`
	InternalPlan       string     `gorm:"type:varchar(50);not null;default:'free';index" json:"internal_plan"`
	Interval           string     `gorm:"type:varchar(16);not null;default:'unknown'" json:"interval"`
	Status             string     `gorm:"type:varchar(32);not null;default:'none';index" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool       `gorm:"default:false" json:"cancel_at_period_end"`
	AutoDebit          bool       `gorm:"default:true" json:"auto_debit"`
	PaymentDate        *time.Time `gorm:"type:timestamp;default:null" json:"payment_date,omitempty"`
	RawPayloadJSON     string     `gorm:"type:longtext" json:"-"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasExternalID reports whether the subscription has been linked to a
// provider-side record yet.
func (s *Subscription) HasExternalID() bool {
	return s != nil && s.ExternalID != ""
}

// IsTerminal reports whether the subscription reached a state from which no
// automatic transition happens anymore.
func (s *Subscription) IsTerminal() bool {
	if s == nil {
		return false
	}
	return s.Status == SubscriptionStatusCanceled || s.Status == SubscriptionStatusExpired
}

// PeriodFallback returns the interval-based period length used when the
// provider did not supply an explicit period end.
func PeriodFallback(interval string) time.Duration {
	if interval == SubscriptionIntervalYear {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}
