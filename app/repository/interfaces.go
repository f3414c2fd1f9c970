package repository

import (
	"github.com/FelixBraun/StudyPilot/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
	Search(query string) ([]models.User, error)
	TouchAPIKeyUsage(userID uint) error
}

// TierRepository defines the interface for pricing catalog operations
type TierRepository interface {
	Create(tier *models.Tier) error
	GetByID(id uint) (*models.Tier, error)
	GetByName(name string) (*models.Tier, error)
	GetActive() ([]models.Tier, error)
	GetAll() ([]models.Tier, error)
	Update(tier *models.Tier) error
}

// ResourceRepository defines the interface for learning-content operations
type ResourceRepository interface {
	Create(resource *models.Resource) error
	GetByID(id uint) (*models.Resource, error)
	GetActive(offset, limit int) ([]models.Resource, error)
	Update(resource *models.Resource) error
	Delete(id uint) error
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User     UserRepository
	Tier     TierRepository
	Resource ResourceRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:     NewUserRepository(db),
		Tier:     NewTierRepository(db),
		Resource: NewResourceRepository(db),
	}
}
