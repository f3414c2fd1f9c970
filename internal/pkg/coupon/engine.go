package coupon

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

var (
	// ErrNotFound covers unknown, inactive, out-of-window and exhausted
	// codes; the single validation query cannot tell them apart, and callers
	// get the distinction from Validation's follow-up classification.
	ErrNotFound  = subscription.NewReasonError("coupon_not_found", "coupon code is not valid")
	ErrExpired   = subscription.NewReasonError("coupon_expired", "coupon code is outside its validity window")
	ErrExhausted = subscription.NewReasonError("coupon_exhausted", "coupon code has no uses left")
	// ErrTierMismatch rejects codes restricted to other tiers.
	ErrTierMismatch = subscription.NewReasonError("tier_mismatch", "coupon does not apply to this tier")
	// ErrCycleMismatch rejects codes restricted to other billing cycles.
	ErrCycleMismatch = subscription.NewReasonError("cycle_mismatch", "coupon does not apply to this billing cycle")
	// ErrCodeTaken rejects creating a coupon with an existing code.
	ErrCodeTaken = subscription.NewReasonError("coupon_code_taken", "coupon code already exists")
)

// Validation is the outcome of ValidateAndReserve.
type Validation struct {
	CouponID    uint
	DiscountPct int
}

// Engine validates and applies discount codes.
type Engine struct {
	repo Repository
}

// NewEngine creates a coupon engine from an injected repository.
func NewEngine(repo Repository) *Engine {
	return &Engine{repo: repo}
}

// NewEngineFromDB creates a coupon engine from a GORM DB handle.
func NewEngineFromDB(db *gorm.DB) *Engine {
	return NewEngine(NewRepository(db))
}

// ValidateAndReserve checks a code against window, budget and tier/cycle
// applicability. The window and budget checks run inside the lookup query;
// the applicability filters are checked on the returned row.
func (e *Engine) ValidateAndReserve(ctx context.Context, code string, tierID uint, billingCycle string, userID uint) (*Validation, error) {
	_ = ctx
	_ = userID // reserved for future per-user budgets

	c, err := e.repo.GetValidByCode(code, time.Now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !c.AppliesToTier(tierID) {
		return nil, ErrTierMismatch
	}
	if !c.AppliesToCycle(billingCycle) {
		return nil, ErrCycleMismatch
	}
	return &Validation{CouponID: c.ID, DiscountPct: c.DiscountPercentage}, nil
}

// Apply discounts the amount for one payment event. The usage row's unique
// constraint makes replays idempotent: a second application for the same
// event returns the same amount without incrementing the use counter.
func (e *Engine) Apply(ctx context.Context, couponID uint, paymentEventID uint, amountCents int64) (int64, error) {
	_ = ctx
	c, err := e.repo.GetByID(couponID)
	if err != nil {
		return 0, err
	}

	err = e.repo.Transaction(func(tx Repository) error {
		created, err := tx.CreateUsageIfNotExists(&models.CouponUsage{
			CouponID:       couponID,
			PaymentEventID: paymentEventID,
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		bumped, err := tx.IncrementUses(couponID)
		if err != nil {
			return err
		}
		if !bumped {
			return ErrExhausted
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return c.DiscountedAmountCents(amountCents), nil
}

// CreateCoupon validates and stores a new discount code.
func (e *Engine) CreateCoupon(ctx context.Context, c *models.CouponCode) error {
	_ = ctx
	c.Code = models.NormalizeCouponCode(c.Code)
	if err := c.Validate(); err != nil {
		return err
	}
	if !c.ValidUntil.After(c.ValidFrom) {
		return subscription.NewReasonError("coupon_window_invalid", "valid_until must be after valid_from")
	}
	return e.repo.Create(c)
}

// ListCoupons returns a page of coupon codes for the admin surface.
func (e *Engine) ListCoupons(ctx context.Context, offset, limit int) ([]models.CouponCode, error) {
	_ = ctx
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return e.repo.List(offset, limit)
}
