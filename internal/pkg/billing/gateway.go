package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Gateway is the provider-side API the billing service talks to. The concrete
// implementation wraps the Stripe SDK; tests inject fakes.
type Gateway interface {
	GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error)
	CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error)
	CreateSubscription(ctx context.Context, customerID, priceRef string, metadata map[string]string) (*ProviderSubscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*ProviderSubscription, error)
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	SetDefaultPaymentMethod(ctx context.Context, customerID, subscriptionID, paymentMethodID string) error
	PayLatestOpenInvoice(ctx context.Context, subscriptionID, paymentMethodID string) error
	ListRecentPayments(ctx context.Context, customerID string, limit int) ([]ProviderPayment, error)
}

// VerifyWebhook checks the Stripe-Signature header against the raw payload and
// returns the parsed event. API version mismatches are tolerated so that SDK
// upgrades do not silently drop deliveries.
func VerifyWebhook(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

type stripeGateway struct {
	api *client.API
}

// NewStripeGateway wraps an initialized Stripe client as a billing gateway.
func NewStripeGateway(api *client.API) Gateway {
	return &stripeGateway{api: api}
}

// NewStripeClient builds the SDK client for the given secret key.
func NewStripeClient(secretKey string) *client.API {
	api := &client.API{}
	api.Init(secretKey, nil)
	return api
}

func (g *stripeGateway) GetSubscription(ctx context.Context, id string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")

	sub, err := g.api.Subscriptions.Get(id, params)
	if err != nil {
		var sErr *stripe.Error
		if errors.As(err, &sErr) && sErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("%w: get subscription: %v", ErrGatewayUnavailable, err)
	}
	return normalizeStripeSubscription(sub), nil
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(userID), 10))

	cust, err := g.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", ErrGatewayUnavailable, err)
	}
	return cust.ID, nil
}

func (g *stripeGateway) CreateSubscription(ctx context.Context, customerID, priceRef string, metadata map[string]string) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceRef)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, fmt.Errorf("%w: create subscription: %v", ErrGatewayUnavailable, err)
	}
	return normalizeStripeSubscription(sub), nil
}

func (g *stripeGateway) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*ProviderSubscription, error) {
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(id, params)
	if err != nil {
		var sErr *stripe.Error
		if errors.As(err, &sErr) && sErr.Code == stripe.ErrorCodeResourceMissing {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return nil, fmt.Errorf("%w: update subscription: %v", ErrGatewayUnavailable, err)
	}
	return normalizeStripeSubscription(sub), nil
}

func (g *stripeGateway) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	if _, err := g.api.PaymentMethods.Attach(paymentMethodID, params); err != nil {
		return fmt.Errorf("%w: attach payment method: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

func (g *stripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, subscriptionID, paymentMethodID string) error {
	custParams := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	custParams.Context = ctx
	if _, err := g.api.Customers.Update(customerID, custParams); err != nil {
		return fmt.Errorf("%w: set customer default payment method: %v", ErrGatewayUnavailable, err)
	}

	if subscriptionID == "" {
		return nil
	}
	subParams := &stripe.SubscriptionParams{
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	subParams.Context = ctx
	if _, err := g.api.Subscriptions.Update(subscriptionID, subParams); err != nil {
		return fmt.Errorf("%w: set subscription default payment method: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

func (g *stripeGateway) PayLatestOpenInvoice(ctx context.Context, subscriptionID, paymentMethodID string) error {
	listParams := &stripe.InvoiceListParams{
		Subscription: stripe.String(subscriptionID),
		Status:       stripe.String(string(stripe.InvoiceStatusOpen)),
	}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)

	iter := g.api.Invoices.List(listParams)
	if !iter.Next() {
		if err := iter.Err(); err != nil {
			return fmt.Errorf("%w: list open invoices: %v", ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("no open invoice for subscription %s", subscriptionID)
	}
	inv := iter.Invoice()

	payParams := &stripe.InvoicePayParams{
		PaymentMethod: stripe.String(paymentMethodID),
	}
	payParams.Context = ctx
	if _, err := g.api.Invoices.Pay(inv.ID, payParams); err != nil {
		return fmt.Errorf("%w: pay invoice %s: %v", ErrGatewayUnavailable, inv.ID, err)
	}
	return nil
}

func (g *stripeGateway) ListRecentPayments(ctx context.Context, customerID string, limit int) ([]ProviderPayment, error) {
	if limit <= 0 {
		limit = 10
	}
	payments := make([]ProviderPayment, 0, limit*2)

	chargeParams := &stripe.ChargeListParams{
		Customer: stripe.String(customerID),
	}
	chargeParams.Context = ctx
	chargeParams.Limit = stripe.Int64(int64(limit))
	chargeParams.AddExpand("data.invoice")

	chargeIter := g.api.Charges.List(chargeParams)
	for chargeIter.Next() {
		payments = append(payments, normalizeStripeCharge(chargeIter.Charge()))
	}
	if err := chargeIter.Err(); err != nil {
		return nil, fmt.Errorf("%w: list charges: %v", ErrGatewayUnavailable, err)
	}

	intentParams := &stripe.PaymentIntentListParams{
		Customer: stripe.String(customerID),
	}
	intentParams.Context = ctx
	intentParams.Limit = stripe.Int64(int64(limit))
	intentParams.AddExpand("data.invoice")

	intentIter := g.api.PaymentIntents.List(intentParams)
	for intentIter.Next() {
		payments = append(payments, normalizeStripePaymentIntent(intentIter.PaymentIntent()))
	}
	if err := intentIter.Err(); err != nil {
		return nil, fmt.Errorf("%w: list payment intents: %v", ErrGatewayUnavailable, err)
	}

	return payments, nil
}

// normalizeStripeSubscription converts the SDK shape into the neutral one the
// service works with. Zero unix timestamps become nil.
func normalizeStripeSubscription(sub *stripe.Subscription) *ProviderSubscription {
	ps := &ProviderSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		ps.CustomerID = sub.Customer.ID
	}
	ps.CurrentPeriodStart = unixToTime(sub.CurrentPeriodStart)
	ps.CurrentPeriodEnd = unixToTime(sub.CurrentPeriodEnd)

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		if price := sub.Items.Data[0].Price; price != nil {
			ps.PriceRef = price.ID
			if price.Recurring != nil {
				ps.Interval = string(price.Recurring.Interval)
			}
		}
	}

	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		pi := sub.LatestInvoice.PaymentIntent
		ps.LatestPaymentRef = pi.ID
		ps.LatestPaymentStatus = string(pi.Status)
		ps.ClientSecret = pi.ClientSecret
	}

	if raw, err := json.Marshal(sub); err == nil {
		ps.RawPayloadJSON = string(raw)
	}
	return ps
}

func normalizeStripeCharge(c *stripe.Charge) ProviderPayment {
	p := ProviderPayment{
		Ref:         c.ID,
		AmountCents: c.Amount,
		Currency:    string(c.Currency),
		Succeeded:   c.Status == stripe.ChargeStatusSucceeded,
		Description: c.Description,
		Metadata:    c.Metadata,
		CreatedAt:   time.Unix(c.Created, 0),
	}
	if c.PaymentIntent != nil {
		p.Ref = c.PaymentIntent.ID
	}
	if c.Invoice != nil {
		p.InvoiceID = c.Invoice.ID
		if c.Invoice.Subscription != nil {
			p.SubscriptionID = c.Invoice.Subscription.ID
		}
		p.PeriodStart, p.PeriodEnd = invoiceLinePeriod(c.Invoice)
	}
	return p
}

func normalizeStripePaymentIntent(pi *stripe.PaymentIntent) ProviderPayment {
	p := ProviderPayment{
		Ref:         pi.ID,
		AmountCents: pi.Amount,
		Currency:    string(pi.Currency),
		Succeeded:   pi.Status == stripe.PaymentIntentStatusSucceeded,
		Description: pi.Description,
		Metadata:    pi.Metadata,
		CreatedAt:   time.Unix(pi.Created, 0),
	}
	if pi.Invoice != nil {
		p.InvoiceID = pi.Invoice.ID
		if pi.Invoice.Subscription != nil {
			p.SubscriptionID = pi.Invoice.Subscription.ID
		}
		p.PeriodStart, p.PeriodEnd = invoiceLinePeriod(pi.Invoice)
	}
	return p
}

// invoiceLinePeriod extracts the billed period from the first invoice line.
func invoiceLinePeriod(inv *stripe.Invoice) (*time.Time, *time.Time) {
	if inv.Lines == nil || len(inv.Lines.Data) == 0 || inv.Lines.Data[0].Period == nil {
		return nil, nil
	}
	period := inv.Lines.Data[0].Period
	return unixToTime(period.Start), unixToTime(period.End)
}

func unixToTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}
