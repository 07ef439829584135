package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

// BillingAccount stores a user's linked billing identity per provider, i.e.
// the provider-side customer the user's payments run through.
type BillingAccount struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 uint      `gorm:"not null;index:ux_billing_accounts_user_provider,unique" json:"user_id"`
	Provider               string    `gorm:"type:varchar(20);not null;index:ux_billing_accounts_user_provider,unique;index:ux_billing_accounts_provider_customer,unique,priority:1" json:"provider"`
	ProviderCustomerID     string    `gorm:"type:varchar(191);not null;index:ux_billing_accounts_provider_customer,unique,priority:2" json:"provider_customer_id"`
	Email                  string    `gorm:"type:varchar(200);default:''" json:"email"`
	DefaultPaymentMethodID string    `gorm:"type:varchar(191);default:''" json:"-"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
