package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	InvoiceStatusPaid = "paid"
)

// Invoice records one successful payment occurrence. Rows are immutable once
// written except for the delivery flags and the archived document key set by
// the asynchronous mail job. The unique (provider, provider_payment_ref) pair
// is what makes invoice creation safe under webhook redelivery.
type Invoice struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Number             string     `gorm:"type:varchar(40);not null;uniqueIndex" json:"number"`
	UserID             uint       `gorm:"not null;index" json:"user_id"`
	SubscriptionID     uint       `gorm:"not null;index" json:"subscription_id"`
	Provider           string     `gorm:"type:varchar(20);not null;index:ux_invoices_provider_payment_ref,unique,priority:1" json:"provider"`
	ProviderPaymentRef string     `gorm:"type:varchar(191);not null;index:ux_invoices_provider_payment_ref,unique,priority:2" json:"provider_payment_ref"`
	AmountCents        int64      `gorm:"not null;default:0" json:"amount_cents"`
	Currency           string     `gorm:"type:varchar(3);not null;default:'eur'" json:"currency"`
	Plan               string     `gorm:"type:varchar(50);not null;default:''" json:"plan"`
	Status             string     `gorm:"type:varchar(20);not null;default:'paid'" json:"status"`
	PeriodStart        *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd          *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	IssuedAt           time.Time  `gorm:"type:timestamp;not null" json:"issued_at"`
	EmailSent          bool       `gorm:"default:false;index" json:"email_sent"`
	EmailSentAt        *time.Time `gorm:"type:timestamp;default:null" json:"email_sent_at,omitempty"`
	EmailError         string     `gorm:"type:text" json:"-"`
	PDFObjectKey       string     `gorm:"type:varchar(255);default:''" json:"-"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GenerateInvoiceNumber builds a human-readable invoice number. Uniqueness is
// still enforced by the database index, the random suffix just keeps
// collisions out of the normal path.
func GenerateInvoiceNumber(issuedAt time.Time) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	suffix := strings.ToUpper(hex.EncodeToString(b))
	return fmt.Sprintf("KF-%s-%s", issuedAt.UTC().Format("20060102"), suffix), nil
}

// MarkEmailSent records a successful delivery on the invoice.
func (i *Invoice) MarkEmailSent(at time.Time) {
	i.EmailSent = true
	i.EmailSentAt = &at
}

// AmountDisplay formats the amount for mails and PDFs, e.g. "9.99 EUR".
func (i *Invoice) AmountDisplay() string {
	return fmt.Sprintf("%d.%02d %s", i.AmountCents/100, i.AmountCents%100, strings.ToUpper(i.Currency))
}
