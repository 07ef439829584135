package repository

import (
	"fmt"
	"strings"

	"github.com/MartinSeiffert/KlangFox/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by their email address
func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByActivationToken retrieves a user by their activation token
func (r *userRepository) GetByActivationToken(token string) (*models.User, error) {
	var user models.User
	err := r.db.Where("activation_token = ?", token).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByAPIKeyHash resolves an active API key hash to its user and user settings.
func (r *userRepository) GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, nil, gorm.ErrRecordNotFound
	}
	var settings models.UserSettings
	query := r.db.Where("api_key_hash = ? AND api_key_hash <> '' AND api_key_revoked_at IS NULL", trimmed)
	if err := query.First(&settings).Error; err != nil {
		return nil, nil, err
	}
	var user models.User
	if err := r.db.First(&user, settings.UserID).Error; err != nil {
		return nil, nil, err
	}
	return &user, &settings, nil
}

// GetBillingStatsByUserID returns aggregate invoice statistics for the given user.
func (r *userRepository) GetBillingStatsByUserID(userID uint) (*UserBillingStats, error) {
	var stats UserBillingStats

	err := r.db.Model(&models.Invoice{}).Where("user_id = ?", userID).Count(&stats.InvoiceCount).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count invoices: %w", err)
	}

	paid := r.db.Model(&models.Invoice{}).Where("user_id = ? AND status = ?", userID, models.InvoiceStatusPaid)
	err = paid.Select("COALESCE(SUM(amount_cents), 0)").Row().Scan(&stats.TotalPaidCents)
	if err != nil {
		return nil, fmt.Errorf("failed to sum paid amounts: %w", err)
	}

	if stats.InvoiceCount > 0 {
		var first models.Invoice
		err = r.db.Where("user_id = ? AND status = ?", userID, models.InvoiceStatusPaid).
			Order("issued_at ASC").First(&first).Error
		if err == nil {
			formatted := first.IssuedAt.UTC().Format("2006-01-02")
			stats.FirstPaidAt = &formatted
		} else if err != gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("failed to load first paid invoice: %w", err)
		}
	}

	return &stats, nil
}

// Update updates an existing user in the database
func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

// Delete soft deletes a user by their ID
func (r *userRepository) Delete(id uint) error {
	return r.db.Delete(&models.User{}, id).Error
}

// List retrieves a paginated list of users
func (r *userRepository) List(offset, limit int) ([]models.User, error) {
	var users []models.User
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&users).Error
	return users, err
}

// Count returns the total number of users
func (r *userRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.User{}).Count(&count).Error
	return count, err
}

// Search searches for users by name or email
func (r *userRepository) Search(query string) ([]models.User, error) {
	var users []models.User
	searchPattern := "%" + strings.TrimSpace(query) + "%"
	err := r.db.Where("name LIKE ? OR email LIKE ?", searchPattern, searchPattern).Find(&users).Error
	return users, err
}
