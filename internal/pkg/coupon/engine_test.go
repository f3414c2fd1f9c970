package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixBraun/StudyPilot/app/models"
)

func intPtr(v int) *int { return &v }

func seedCoupon(t *testing.T, repo *MemoryRepository, mutate func(*models.CouponCode)) *models.CouponCode {
	t.Helper()
	now := time.Now()
	c := &models.CouponCode{
		Code:               "welcome20",
		DiscountPercentage: 20,
		ValidFrom:          now.Add(-24 * time.Hour),
		ValidUntil:         now.Add(24 * time.Hour),
		IsActive:           true,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, repo.Create(c))
	return c
}

func TestValidateAndReserveHappyPath(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	c := seedCoupon(t, repo, nil)

	v, err := engine.ValidateAndReserve(context.Background(), "WELCOME20", 2, models.BillingCycleMonthly, 7)
	require.NoError(t, err)
	assert.Equal(t, c.ID, v.CouponID)
	assert.Equal(t, 20, v.DiscountPct)
}

func TestValidateAndReserveUnknownCode(t *testing.T) {
	engine := NewEngine(NewMemoryRepository())

	_, err := engine.ValidateAndReserve(context.Background(), "nope", 2, models.BillingCycleMonthly, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateAndReserveOutsideWindow(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	seedCoupon(t, repo, func(c *models.CouponCode) {
		c.ValidFrom = time.Now().Add(-48 * time.Hour)
		c.ValidUntil = time.Now().Add(-24 * time.Hour)
	})

	_, err := engine.ValidateAndReserve(context.Background(), "welcome20", 2, models.BillingCycleMonthly, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateAndReserveTierAndCycleFilters(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	seedCoupon(t, repo, func(c *models.CouponCode) {
		c.SetTierIDs([]uint{3})
		c.SetCycles([]string{models.BillingCycleYearly})
	})

	_, err := engine.ValidateAndReserve(context.Background(), "welcome20", 2, models.BillingCycleYearly, 7)
	assert.ErrorIs(t, err, ErrTierMismatch)

	_, err = engine.ValidateAndReserve(context.Background(), "welcome20", 3, models.BillingCycleMonthly, 7)
	assert.ErrorIs(t, err, ErrCycleMismatch)

	v, err := engine.ValidateAndReserve(context.Background(), "welcome20", 3, models.BillingCycleYearly, 7)
	require.NoError(t, err)
	assert.Equal(t, 20, v.DiscountPct)
}

func TestApplyIsIdempotentPerEvent(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	c := seedCoupon(t, repo, func(c *models.CouponCode) {
		c.MaxUses = intPtr(5)
	})

	first, err := engine.Apply(context.Background(), c.ID, 900, 10_000)
	require.NoError(t, err)
	assert.Equal(t, int64(8_000), first)

	second, err := engine.Apply(context.Background(), c.ID, 900, 10_000)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := repo.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentUses, "replay must not increment uses twice")
}

func TestApplyRejectsBeyondMaxUses(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	c := seedCoupon(t, repo, func(c *models.CouponCode) {
		c.MaxUses = intPtr(2)
	})

	_, err := engine.Apply(context.Background(), c.ID, 901, 10_000)
	require.NoError(t, err)
	_, err = engine.Apply(context.Background(), c.ID, 902, 10_000)
	require.NoError(t, err)

	_, err = engine.Apply(context.Background(), c.ID, 903, 10_000)
	assert.ErrorIs(t, err, ErrExhausted)

	// Exhaustion also hides the code from validation.
	_, err = engine.ValidateAndReserve(context.Background(), "welcome20", 2, models.BillingCycleMonthly, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateCouponValidation(t *testing.T) {
	engine := NewEngine(NewMemoryRepository())
	now := time.Now()

	err := engine.CreateCoupon(context.Background(), &models.CouponCode{
		Code:               "bad",
		DiscountPercentage: 150,
		ValidFrom:          now,
		ValidUntil:         now.Add(time.Hour),
	})
	assert.Error(t, err)

	err = engine.CreateCoupon(context.Background(), &models.CouponCode{
		Code:               "backwards",
		DiscountPercentage: 10,
		ValidFrom:          now,
		ValidUntil:         now.Add(-time.Hour),
	})
	assert.Error(t, err)

	err = engine.CreateCoupon(context.Background(), &models.CouponCode{
		Code:               "Spring30",
		DiscountPercentage: 30,
		ValidFrom:          now,
		ValidUntil:         now.Add(time.Hour),
		IsActive:           true,
	})
	require.NoError(t, err)

	// Codes are case-insensitive unique.
	err = engine.CreateCoupon(context.Background(), &models.CouponCode{
		Code:               "SPRING30",
		DiscountPercentage: 15,
		ValidFrom:          now,
		ValidUntil:         now.Add(time.Hour),
		IsActive:           true,
	})
	assert.ErrorIs(t, err, ErrCodeTaken)
}
