package repository

import (
	"github.com/FelixBraun/StudyPilot/app/models"
	"gorm.io/gorm"
)

// resourceRepository implements the ResourceRepository interface
type resourceRepository struct {
	db *gorm.DB
}

// NewResourceRepository creates a new resource repository instance
func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

// Create creates a new learning resource
func (r *resourceRepository) Create(resource *models.Resource) error {
	return r.db.Create(resource).Error
}

// GetByID retrieves a resource by its ID
func (r *resourceRepository) GetByID(id uint) (*models.Resource, error) {
	var resource models.Resource
	err := r.db.First(&resource, id).Error
	if err != nil {
		return nil, err
	}
	return &resource, nil
}

// GetActive retrieves a paginated list of published resources
func (r *resourceRepository) GetActive(offset, limit int) ([]models.Resource, error) {
	var resources []models.Resource
	err := r.db.Where("is_active = ?", true).Order("title ASC").Offset(offset).Limit(limit).Find(&resources).Error
	return resources, err
}

// Update updates an existing resource
func (r *resourceRepository) Update(resource *models.Resource) error {
	return r.db.Save(resource).Error
}

// Delete removes a resource by its ID
func (r *resourceRepository) Delete(id uint) error {
	return r.db.Delete(&models.Resource{}, id).Error
}

// Count returns the total number of resources
func (r *resourceRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.Resource{}).Count(&count).Error
	return count, err
}
