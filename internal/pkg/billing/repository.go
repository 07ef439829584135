package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MartinSeiffert/KlangFox/app/models"
)

// Repository provides the DB operations used by the billing service. All
// subscription writes go through Save with the full record; there is no
// partial-field update path.
type Repository interface {
	GetSubscriptionByUserID(userID uint) (*models.Subscription, error)
	GetSubscriptionByExternalID(provider, externalID string) (*models.Subscription, error)
	SaveSubscription(sub *models.Subscription) error

	FindActivePlanMapping(provider, providerPriceRef, interval string) (*models.PlanMapping, error)
	FindActivePlanMappingByPlan(provider, internalPlan, interval string) (*models.PlanMapping, error)

	UpsertBillingAccount(account *models.BillingAccount) error
	GetBillingAccountByUser(userID uint, provider string) (*models.BillingAccount, error)
	GetBillingAccountByCustomer(provider, customerID string) (*models.BillingAccount, error)

	GetUserByID(userID uint) (*models.User, error)
	GetOrCreateUserSettings(userID uint) (*models.UserSettings, error)
	SaveUserSettings(us *models.UserSettings) error

	CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	GetWebhookEventByID(id uint) (*models.WebhookEvent, error)
	ListRecentWebhookEvents(limit int) ([]models.WebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	CreateInvoiceIfNotExists(inv *models.Invoice) (bool, *models.Invoice, error)
	GetInvoiceByID(id uint) (*models.Invoice, error)
	GetInvoiceByNumber(number string) (*models.Invoice, error)
	ListInvoicesByUser(userID uint) ([]models.Invoice, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriptionByExternalID(provider, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("provider = ? AND external_id = ?", provider, externalID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) FindActivePlanMapping(provider, providerPriceRef, interval string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.
		Where("provider = ? AND provider_price_ref = ? AND billing_interval = ? AND is_active = ?", provider, providerPriceRef, interval, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) FindActivePlanMappingByPlan(provider, internalPlan, interval string) (*models.PlanMapping, error) {
	var m models.PlanMapping
	err := r.db.
		Where("provider = ? AND internal_plan = ? AND billing_interval = ? AND is_active = ?", provider, internalPlan, interval, true).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *gormRepository) UpsertBillingAccount(account *models.BillingAccount) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_customer_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"email",
			"default_payment_method_id",
			"updated_at",
		}),
	}).Create(account).Error; err != nil {
		return err
	}

	return r.db.Where("provider = ? AND provider_customer_id = ?", account.Provider, account.ProviderCustomerID).
		First(account).Error
}

func (r *gormRepository) GetBillingAccountByUser(userID uint, provider string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.Where("user_id = ? AND provider = ?", userID, provider).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetBillingAccountByCustomer(provider, customerID string) (*models.BillingAccount, error) {
	var account models.BillingAccount
	err := r.db.Where("provider = ? AND provider_customer_id = ?", provider, customerID).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *gormRepository) GetUserByID(userID uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetOrCreateUserSettings(userID uint) (*models.UserSettings, error) {
	return models.GetOrCreateUserSettings(r.db, userID)
}

func (r *gormRepository) SaveUserSettings(us *models.UserSettings) error {
	return r.db.Save(us).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetWebhookEventByID(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) ListRecentWebhookEvents(limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var events []models.WebhookEvent
	err := r.db.Order("created_at DESC").Limit(limit).Find(&events).Error
	return events, err
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// CreateInvoiceIfNotExists inserts the invoice unless one with the same
// (provider, provider_payment_ref) already exists. The returned bool reports
// whether this call created the row; the unique index is what makes the
// side effect exactly-once under webhook redelivery.
func (r *gormRepository) CreateInvoiceIfNotExists(inv *models.Invoice) (bool, *models.Invoice, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_payment_ref"},
		},
		DoNothing: true,
	}).Create(inv)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Invoice
	if err := r.db.Where("provider = ? AND provider_payment_ref = ?", inv.Provider, inv.ProviderPaymentRef).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) GetInvoiceByID(id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) GetInvoiceByNumber(number string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("number = ?", number).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) ListInvoicesByUser(userID uint) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.Where("user_id = ?", userID).Order("issued_at DESC").Find(&invoices).Error
	return invoices, err
}
