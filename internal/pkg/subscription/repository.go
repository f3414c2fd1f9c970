package subscription

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// Repository provides DB operations over subscription state. Every mutation of
// a subscription row goes through UpdateWithVersion or a guarded UPDATE so
// concurrent writers cannot silently lose a write.
type Repository interface {
	// Transaction runs fn against a transactional view of the repository;
	// fn's writes are rolled back when it returns an error.
	Transaction(fn func(Repository) error) error

	Create(sub *models.Subscription) error
	GetByID(id uint) (*models.Subscription, error)
	GetByIDForUpdate(id uint) (*models.Subscription, error)
	GetActiveByUserID(userID uint) (*models.Subscription, error)
	GetActiveByUserIDForUpdate(userID uint) (*models.Subscription, error)
	UpdateWithVersion(sub *models.Subscription) error
	IncrementTokenUsage(id uint, amount int64, limit *int64) (bool, error)
	CountActiveByUserID(userID uint) (int64, error)

	ListResetDue(now time.Time, limit int) ([]models.Subscription, error)
	ListExpiryDue(now time.Time, limit int) ([]models.Subscription, error)
	ListScopeResetDue(limit int) ([]models.Subscription, error)

	GetTierByID(id uint) (*models.Tier, error)
	GetTierByName(name string) (*models.Tier, error)
	GetResourceByID(id uint) (*models.Resource, error)
	GetUserByID(id uint) (*models.User, error)
	AddReferralPoints(userID uint, points int) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

const mysqlDupEntry = 1062

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDupEntry
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) Create(sub *models.Subscription) error {
	sub.SyncActiveUserKey()
	if err := r.db.Create(sub).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrAlreadyActive
		}
		return err
	}
	return nil
}

func (r *gormRepository) GetByID(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Tier").First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetByIDForUpdate(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.attachTier(&sub)
}

func (r *gormRepository) GetActiveByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Preload("Tier").
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetActiveByUserIDForUpdate(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.attachTier(&sub)
}

// attachTier loads the tier separately; Preload cannot be combined with a
// locking clause without locking the joined tier row too.
func (r *gormRepository) attachTier(sub *models.Subscription) (*models.Subscription, error) {
	var tier models.Tier
	if err := r.db.First(&tier, sub.TierID).Error; err != nil {
		return nil, err
	}
	sub.Tier = tier
	return sub, nil
}

// UpdateWithVersion writes all mutable columns guarded by the row version.
// Returns ErrConflict when the row changed underneath the caller and
// ErrAlreadyActive when the write would produce a second active row.
func (r *gormRepository) UpdateWithVersion(sub *models.Subscription) error {
	sub.SyncActiveUserKey()
	currentVersion := sub.Version

	res := r.db.Model(&models.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, currentVersion).
		Updates(map[string]interface{}{
			"tier_id":                              sub.TierID,
			"status":                               sub.Status,
			"active_user_key":                      sub.ActiveUserKey,
			"billing_cycle":                        sub.BillingCycle,
			"payment_provider":                     sub.PaymentProvider,
			"is_recurring":                         sub.IsRecurring,
			"cancel_at_period_end":                 sub.CancelAtPeriodEnd,
			"cancel_reason":                        sub.CancelReason,
			"period_start_date":                    sub.PeriodStartDate,
			"period_end_date":                      sub.PeriodEndDate,
			"subscription_end_date":                sub.SubscriptionEndDate,
			"tokens_used_current_period":           sub.TokensUsed,
			"token_limit_override":                 sub.TokenLimitOverride,
			"resource_access_count_current_period": sub.ResourceAccessCount,
			"accessed_resource_ids":                sub.AccessedResourceIDs,
			"selected_scope_ids":                   sub.SelectedScopeIDs,
			"version":                              currentVersion + 1,
		})
	if res.Error != nil {
		if isDuplicateKey(res.Error) {
			return ErrAlreadyActive
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	sub.Version = currentVersion + 1
	return nil
}

// IncrementTokenUsage atomically adds usage guarded by the effective limit in
// a single UPDATE. Returns false when the guard rejected the increment.
func (r *gormRepository) IncrementTokenUsage(id uint, amount int64, limit *int64) (bool, error) {
	q := r.db.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, models.SubscriptionStatusActive)
	if limit != nil {
		q = q.Where("tokens_used_current_period + ? <= ?", amount, *limit)
	}
	res := q.UpdateColumn("tokens_used_current_period", gorm.Expr("tokens_used_current_period + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CountActiveByUserID(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.Subscription{}).
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Count(&count).Error
	return count, err
}

// ListResetDue selects active subscriptions whose quota period lapsed and
// which are still entitled to a refill: recurring, and either monthly, or
// within (or free of) a contractual term.
func (r *gormRepository) ListResetDue(now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ? AND period_end_date < ? AND is_recurring = ?", models.SubscriptionStatusActive, now, true).
		Where("billing_cycle = ? OR subscription_end_date IS NULL OR subscription_end_date > ?", models.BillingCycleMonthly, now).
		Order("period_end_date ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// ListExpiryDue selects active subscriptions whose contractual life ended:
// yearly terms past their end date, one-time grants past their period, and
// pending cancellations past their governing end date.
func (r *gormRepository) ListExpiryDue(now time.Time, limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Where("status = ?", models.SubscriptionStatusActive).
		Where(r.db.
			Where("billing_cycle = ? AND subscription_end_date IS NOT NULL AND subscription_end_date < ?", models.BillingCycleYearly, now).
			Or("is_recurring = ? AND period_end_date < ?", false, now).
			Or("cancel_at_period_end = ? AND subscription_end_date IS NOT NULL AND subscription_end_date < ?", true, now).
			Or("cancel_at_period_end = ? AND subscription_end_date IS NULL AND period_end_date < ?", true, now)).
		Order("user_id ASC, id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

// ListScopeResetDue selects active subscriptions that still carry a scope
// selection although their tier no longer requires one.
func (r *gormRepository) ListScopeResetDue(limit int) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.
		Joins("JOIN tiers ON tiers.id = subscriptions.tier_id").
		Where("subscriptions.status = ? AND subscriptions.selected_scope_ids IS NOT NULL", models.SubscriptionStatusActive).
		Where("tiers.requires_grade_selection = ? AND tiers.requires_subject_selection = ?", false, false).
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetTierByID(id uint) (*models.Tier, error) {
	var tier models.Tier
	if err := r.db.First(&tier, id).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *gormRepository) GetTierByName(name string) (*models.Tier, error) {
	var tier models.Tier
	if err := r.db.Where("name = ?", name).First(&tier).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

func (r *gormRepository) GetResourceByID(id uint) (*models.Resource, error) {
	var res models.Resource
	if err := r.db.First(&res, id).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) AddReferralPoints(userID uint, points int) error {
	return r.db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("referral_points", gorm.Expr("referral_points + ?", points)).Error
}
