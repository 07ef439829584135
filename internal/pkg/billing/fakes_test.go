package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/MartinSeiffert/KlangFox/app/models"
)

// fakeRepo is an in-memory Repository for unit tests.
type fakeRepo struct {
	subs     []*models.Subscription
	mappings []models.PlanMapping
	accounts []*models.BillingAccount
	users    map[uint]*models.User
	settings map[uint]*models.UserSettings
	events   map[string]*models.WebhookEvent
	invoices map[string]*models.Invoice

	nextSubID     uint
	nextEventID   uint
	nextInvoiceID uint
	nextAccountID uint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:    make(map[uint]*models.User),
		settings: make(map[uint]*models.UserSettings),
		events:   make(map[string]*models.WebhookEvent),
		invoices: make(map[string]*models.Invoice),
	}
}

func (r *fakeRepo) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	for _, s := range r.subs {
		if s.UserID == userID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetSubscriptionByExternalID(provider, externalID string) (*models.Subscription, error) {
	for _, s := range r.subs {
		if s.Provider == provider && s.ExternalID == externalID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) SaveSubscription(sub *models.Subscription) error {
	if sub.ID == 0 {
		r.nextSubID++
		sub.ID = r.nextSubID
		cp := *sub
		r.subs = append(r.subs, &cp)
		return nil
	}
	for i, s := range r.subs {
		if s.ID == sub.ID {
			cp := *sub
			r.subs[i] = &cp
			return nil
		}
	}
	cp := *sub
	r.subs = append(r.subs, &cp)
	return nil
}

func (r *fakeRepo) FindActivePlanMapping(provider, providerPriceRef, interval string) (*models.PlanMapping, error) {
	for i := range r.mappings {
		m := r.mappings[i]
		if m.IsActive && m.Provider == provider && m.ProviderPriceRef == providerPriceRef && m.BillingInterval == interval {
			return &m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) FindActivePlanMappingByPlan(provider, internalPlan, interval string) (*models.PlanMapping, error) {
	for i := range r.mappings {
		m := r.mappings[i]
		if m.IsActive && m.Provider == provider && m.InternalPlan == internalPlan && m.BillingInterval == interval {
			return &m, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpsertBillingAccount(account *models.BillingAccount) error {
	for i, a := range r.accounts {
		if a.Provider == account.Provider && a.ProviderCustomerID == account.ProviderCustomerID {
			account.ID = a.ID
			cp := *account
			r.accounts[i] = &cp
			return nil
		}
	}
	r.nextAccountID++
	account.ID = r.nextAccountID
	cp := *account
	r.accounts = append(r.accounts, &cp)
	return nil
}

func (r *fakeRepo) GetBillingAccountByUser(userID uint, provider string) (*models.BillingAccount, error) {
	for _, a := range r.accounts {
		if a.UserID == userID && a.Provider == provider {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetBillingAccountByCustomer(provider, customerID string) (*models.BillingAccount, error) {
	for _, a := range r.accounts {
		if a.Provider == provider && a.ProviderCustomerID == customerID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetUserByID(userID uint) (*models.User, error) {
	if u, ok := r.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	if us, ok := r.settings[userID]; ok {
		cp := *us
		return &cp, nil
	}
	us := &models.UserSettings{ID: userID, UserID: userID, Plan: "free", PrefInvoiceEmails: true}
	r.settings[userID] = us
	cp := *us
	return &cp, nil
}

func (r *fakeRepo) SaveUserSettings(us *models.UserSettings) error {
	cp := *us
	r.settings[us.UserID] = &cp
	return nil
}

func (r *fakeRepo) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	key := event.Provider + "|" + event.ProviderEventID
	if existing, ok := r.events[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextEventID++
	event.ID = r.nextEventID
	cp := *event
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) GetWebhookEventByID(id uint) (*models.WebhookEvent, error) {
	for _, e := range r.events {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) ListRecentWebhookEvents(limit int) ([]models.WebhookEvent, error) {
	out := make([]models.WebhookEvent, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, *e)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) MarkWebhookProcessed(id uint, processingError string) error {
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreateInvoiceIfNotExists(inv *models.Invoice) (bool, *models.Invoice, error) {
	key := inv.Provider + "|" + inv.ProviderPaymentRef
	if existing, ok := r.invoices[key]; ok {
		cp := *existing
		return false, &cp, nil
	}
	r.nextInvoiceID++
	inv.ID = r.nextInvoiceID
	cp := *inv
	r.invoices[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) GetInvoiceByID(id uint) (*models.Invoice, error) {
	for _, inv := range r.invoices {
		if inv.ID == id {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) GetInvoiceByNumber(number string) (*models.Invoice, error) {
	for _, inv := range r.invoices {
		if inv.Number == number {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) ListInvoicesByUser(userID uint) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, inv := range r.invoices {
		if inv.UserID == userID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

// fakeGateway is an in-memory Gateway for unit tests.
type fakeGateway struct {
	subs   map[string]*ProviderSubscription
	getErr error

	payments    []ProviderPayment
	paymentsErr error

	createdCustomers int
	createdSubs      []*ProviderSubscription
	cancelCalls      []string
	attachCalls      []string
	defaultCalls     []string
	payCalls         []string
	payErr           error
	cancelErr        error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{subs: make(map[string]*ProviderSubscription)}
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*ProviderSubscription, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	if ps, ok := g.subs[id]; ok {
		cp := *ps
		return &cp, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
}

func (g *fakeGateway) CreateCustomer(_ context.Context, _, _ string, userID uint) (string, error) {
	g.createdCustomers++
	return fmt.Sprintf("cus_test_%d", userID), nil
}

func (g *fakeGateway) CreateSubscription(_ context.Context, customerID, priceRef string, _ map[string]string) (*ProviderSubscription, error) {
	ps := &ProviderSubscription{
		ID:           fmt.Sprintf("sub_new_%d", len(g.createdSubs)+1),
		CustomerID:   customerID,
		PriceRef:     priceRef,
		Interval:     "month",
		Status:       "incomplete",
		ClientSecret: "pi_secret_123",
	}
	g.createdSubs = append(g.createdSubs, ps)
	g.subs[ps.ID] = ps
	cp := *ps
	return &cp, nil
}

func (g *fakeGateway) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (*ProviderSubscription, error) {
	g.cancelCalls = append(g.cancelCalls, fmt.Sprintf("%s=%t", id, cancel))
	if g.cancelErr != nil {
		return nil, g.cancelErr
	}
	ps, ok := g.subs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	ps.CancelAtPeriodEnd = cancel
	cp := *ps
	return &cp, nil
}

func (g *fakeGateway) AttachPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	g.attachCalls = append(g.attachCalls, customerID+"|"+paymentMethodID)
	return nil
}

func (g *fakeGateway) SetDefaultPaymentMethod(_ context.Context, customerID, subscriptionID, paymentMethodID string) error {
	g.defaultCalls = append(g.defaultCalls, customerID+"|"+subscriptionID+"|"+paymentMethodID)
	return nil
}

func (g *fakeGateway) PayLatestOpenInvoice(_ context.Context, subscriptionID, paymentMethodID string) error {
	g.payCalls = append(g.payCalls, subscriptionID+"|"+paymentMethodID)
	return g.payErr
}

func (g *fakeGateway) ListRecentPayments(_ context.Context, _ string, _ int) ([]ProviderPayment, error) {
	if g.paymentsErr != nil {
		return nil, g.paymentsErr
	}
	return g.payments, nil
}

// fakeScheduler records enqueued invoice delivery jobs.
type fakeScheduler struct {
	enqueued []uint
	err      error
}

func (f *fakeScheduler) EnqueueInvoiceDelivery(_ context.Context, invoiceID uint) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, invoiceID)
	return nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestService wires a service with fakes, a fixed clock and a no-op
// recovery wait.
func newTestService() (*Service, *fakeRepo, *fakeGateway, *fakeScheduler) {
	repo := newFakeRepo()
	gateway := newFakeGateway()
	scheduler := &fakeScheduler{}
	svc := NewService(repo, gateway, scheduler)
	svc.now = func() time.Time { return testNow }
	svc.wait = func(context.Context) {}
	return svc, repo, gateway, scheduler
}

func seedSubscription(repo *fakeRepo, sub models.Subscription) *models.Subscription {
	if sub.Provider == "" {
		sub.Provider = models.BillingProviderStripe
	}
	_ = repo.SaveSubscription(&sub)
	return &sub
}

func seedAccount(repo *fakeRepo, userID uint, customerID string) {
	_ = repo.UpsertBillingAccount(&models.BillingAccount{
		UserID:             userID,
		Provider:           models.BillingProviderStripe,
		ProviderCustomerID: customerID,
	})
}

func tp(t time.Time) *time.Time { return &t }
