package billing

import "time"

// EventType is the provider event name a webhook delivery carries, e.g.
// "customer.subscription.updated".
type EventType string

// Recognized event types. Anything else is acknowledged without effect.
const (
	EventSubscriptionCreated     EventType = "customer.subscription.created"
	EventSubscriptionUpdated     EventType = "customer.subscription.updated"
	EventSubscriptionDeleted     EventType = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded EventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice.payment_failed"
	EventPaymentIntentSucceeded  EventType = "payment_intent.succeeded"
	EventChargeSucceeded         EventType = "charge.succeeded"
)

// Event is one verified webhook delivery handed to the dispatcher. Payload is
// the raw JSON of the event's data object, RecordID the id of the stored
// WebhookEvent row.
type Event struct {
	ID       string
	Type     EventType
	Payload  []byte
	RecordID uint
}

// ProviderSubscription is the provider-agnostic view of a subscription as the
// gateway reports it. The billing service syncs this shape into local tables.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	PriceRef           string
	Interval           string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool

	// Checkout/recovery extras, filled when the provider response carries them.
	LatestPaymentRef    string
	LatestPaymentStatus string
	ClientSecret        string

	RawPayloadJSON string
}

// ProviderPayment is the provider-agnostic view of one payment attempt
// (payment intent or charge). Ref is the canonical payment reference: the
// payment-intent id when known, otherwise the charge or invoice id.
type ProviderPayment struct {
	Ref            string
	SubscriptionID string
	InvoiceID      string
	AmountCents    int64
	Currency       string
	Succeeded      bool
	Description    string
	Metadata       map[string]string
	CreatedAt      time.Time
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
}

// StatusView is the merged local+provider subscription state reported to
// clients.
type StatusView struct {
	Status            string     `json:"status"`
	IsActive          bool       `json:"is_active"`
	Plan              string     `json:"plan"`
	Interval          string     `json:"interval,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	AutoDebit         bool       `json:"auto_debit"`
	PaymentDate       *time.Time `json:"payment_date,omitempty"`
	Provider          string     `json:"provider,omitempty"`
	ExternalID        string     `json:"external_id,omitempty"`
}

// DetailsView extends StatusView with the countdown fields and the raw
// provider-side values the merged view was derived from.
type DetailsView struct {
	StatusView
	RemainingDays     int        `json:"remaining_days"`
	ValidityStatus    string     `json:"validity_status"`
	ProviderStatus    string     `json:"provider_status,omitempty"`
	ProviderPeriodEnd *time.Time `json:"provider_period_end,omitempty"`
}
