package repository

import (
	"github.com/FelixBraun/StudyPilot/app/models"
	"gorm.io/gorm"
)

// tierRepository implements the TierRepository interface
type tierRepository struct {
	db *gorm.DB
}

// NewTierRepository creates a new tier repository instance
func NewTierRepository(db *gorm.DB) TierRepository {
	return &tierRepository{db: db}
}

// Create creates a new pricing tier
func (r *tierRepository) Create(tier *models.Tier) error {
	return r.db.Create(tier).Error
}

// GetByID retrieves a tier by its ID
func (r *tierRepository) GetByID(id uint) (*models.Tier, error) {
	var tier models.Tier
	err := r.db.First(&tier, id).Error
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// GetByName retrieves a tier by its stable name
func (r *tierRepository) GetByName(name string) (*models.Tier, error) {
	var tier models.Tier
	err := r.db.Where("name = ?", name).First(&tier).Error
	if err != nil {
		return nil, err
	}
	return &tier, nil
}

// GetActive retrieves the sellable tiers in display order
func (r *tierRepository) GetActive() ([]models.Tier, error) {
	var tiers []models.Tier
	err := r.db.Where("is_active = ?", true).Order("display_order ASC").Find(&tiers).Error
	return tiers, err
}

// GetAll retrieves every tier including retired ones
func (r *tierRepository) GetAll() ([]models.Tier, error) {
	var tiers []models.Tier
	err := r.db.Order("display_order ASC").Find(&tiers).Error
	return tiers, err
}

// Update updates an existing tier
func (r *tierRepository) Update(tier *models.Tier) error {
	return r.db.Save(tier).Error
}
