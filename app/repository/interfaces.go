package repository

import (
	"github.com/MartinSeiffert/KlangFox/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByActivationToken(token string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	GetBillingStatsByUserID(userID uint) (*UserBillingStats, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
}

// SettingRepository defines the interface for application settings
type SettingRepository interface {
	Get() (*models.AppSettings, error)
	Save(settings *models.AppSettings) error
	GetValue(key string) (string, error)
	SetValue(key, value string) error
}

// UserBillingStats provides aggregated billing counts for a single user.
type UserBillingStats struct {
	InvoiceCount   int64
	TotalPaidCents int64
	FirstPaidAt    *string
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Setting SettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Setting: NewSettingRepository(db),
	}
}
