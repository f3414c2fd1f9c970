package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// Repository persists payment events and their processing audit trail.
type Repository interface {
	// CreateEventIfNotExists inserts the event unless the idempotency key is
	// already taken, and returns the stored row either way. created=false
	// signals a replay.
	CreateEventIfNotExists(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	MarkEventProcessed(id uint, result string, subscriptionID *uint, processingError string) error
	CountAppliedByUser(userID uint) (int64, error)
	ListEventsByUser(userID uint, offset, limit int) ([]models.PaymentEvent, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment-event repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateEventIfNotExists(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "external_event_id"},
		},
		DoNothing: true,
	}).Create(ev)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND external_event_id = ?", ev.Provider, ev.ExternalEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkEventProcessed(id uint, result string, subscriptionID *uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"result":                 result,
		"result_subscription_id": subscriptionID,
		"processed_at":           &now,
		"processing_error":       processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) CountAppliedByUser(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.PaymentEvent{}).
		Where("user_id = ? AND result = ?", userID, models.PaymentEventResultApplied).
		Count(&count).Error
	return count, err
}

func (r *gormRepository) ListEventsByUser(userID uint, offset, limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&events).Error
	return events, err
}
