package coupon

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// Repository provides DB operations used by the coupon engine.
type Repository interface {
	Transaction(fn func(Repository) error) error
	GetValidByCode(code string, now time.Time) (*models.CouponCode, error)
	GetByID(id uint) (*models.CouponCode, error)
	CreateUsageIfNotExists(usage *models.CouponUsage) (bool, error)
	IncrementUses(couponID uint) (bool, error)
	Create(c *models.CouponCode) error
	List(offset, limit int) ([]models.CouponCode, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a coupon repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// GetValidByCode checks existence, active flag, validity window and the use
// budget in one query so there is no window between check and use.
func (r *gormRepository) GetValidByCode(code string, now time.Time) (*models.CouponCode, error) {
	var c models.CouponCode
	err := r.db.
		Where("code = ? AND is_active = ?", models.NormalizeCouponCode(code), true).
		Where("valid_from <= ? AND valid_until >= ?", now, now).
		Where("max_uses IS NULL OR current_uses < max_uses").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetByID(id uint) (*models.CouponCode, error) {
	var c models.CouponCode
	if err := r.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateUsageIfNotExists records the application of a coupon to one payment
// event; the unique (coupon_id, payment_event_id) index makes replays no-ops.
func (r *gormRepository) CreateUsageIfNotExists(usage *models.CouponUsage) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "coupon_id"},
			{Name: "payment_event_id"},
		},
		DoNothing: true,
	}).Create(usage)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// IncrementUses bumps the use counter guarded by the budget so the
// (max_uses+1)th application across distinct events is rejected.
func (r *gormRepository) IncrementUses(couponID uint) (bool, error) {
	res := r.db.Model(&models.CouponCode{}).
		Where("id = ?", couponID).
		Where("max_uses IS NULL OR current_uses < max_uses").
		UpdateColumn("current_uses", gorm.Expr("current_uses + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) Create(c *models.CouponCode) error {
	c.Code = models.NormalizeCouponCode(c.Code)
	if err := r.db.Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCodeTaken
		}
		return err
	}
	return nil
}

func (r *gormRepository) List(offset, limit int) ([]models.CouponCode, error) {
	var coupons []models.CouponCode
	err := r.db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&coupons).Error
	return coupons, err
}
