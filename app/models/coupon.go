package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// CouponCode is a percentage discount applied to a pending payment. Codes are
// matched case-insensitively; the canonical form is lowercase.
type CouponCode struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Code                 string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"code" validate:"required,min=3,max=50"`
	DiscountPercentage   int       `gorm:"not null" json:"discount_percentage" validate:"min=1,max=100"`
	ValidFrom            time.Time `gorm:"type:timestamp;not null" json:"valid_from"`
	ValidUntil           time.Time `gorm:"type:timestamp;not null" json:"valid_until"`
	MaxUses              *int      `gorm:"default:null" json:"max_uses,omitempty"`
	CurrentUses          int       `gorm:"not null;default:0" json:"current_uses"`
	ApplicableTierIDs    string    `gorm:"type:text;not null;default:''" json:"-"`
	ApplicableCycles     string    `gorm:"type:text;not null;default:''" json:"-"`
	IsActive             bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *CouponCode) Validate() error {
	v := validator.New()

	return v.Struct(c)
}

// NormalizeCouponCode lowercases and trims a user-supplied code.
func NormalizeCouponCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// TierIDs decodes the applicable tier filter; empty means all tiers.
func (c *CouponCode) TierIDs() []uint {
	if c.ApplicableTierIDs == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(c.ApplicableTierIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetTierIDs encodes the applicable tier filter.
func (c *CouponCode) SetTierIDs(ids []uint) {
	if len(ids) == 0 {
		c.ApplicableTierIDs = ""
		return
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	c.ApplicableTierIDs = string(raw)
}

// Cycles decodes the applicable billing-cycle filter; empty means all cycles.
func (c *CouponCode) Cycles() []string {
	if c.ApplicableCycles == "" {
		return nil
	}
	var cycles []string
	if err := json.Unmarshal([]byte(c.ApplicableCycles), &cycles); err != nil {
		return nil
	}
	return cycles
}

// SetCycles encodes the applicable billing-cycle filter.
func (c *CouponCode) SetCycles(cycles []string) {
	if len(cycles) == 0 {
		c.ApplicableCycles = ""
		return
	}
	raw, err := json.Marshal(cycles)
	if err != nil {
		return
	}
	c.ApplicableCycles = string(raw)
}

// AppliesToTier checks the tier filter, empty filter matches everything.
func (c *CouponCode) AppliesToTier(tierID uint) bool {
	ids := c.TierIDs()
	if len(ids) == 0 {
		return true
	}
	for _, id := range ids {
		if id == tierID {
			return true
		}
	}
	return false
}

// AppliesToCycle checks the billing-cycle filter, empty filter matches everything.
func (c *CouponCode) AppliesToCycle(cycle string) bool {
	cycles := c.Cycles()
	if len(cycles) == 0 {
		return true
	}
	for _, cy := range cycles {
		if cy == cycle {
			return true
		}
	}
	return false
}

// IsWithinWindow checks the validity window at the given instant.
func (c *CouponCode) IsWithinWindow(now time.Time) bool {
	return !now.Before(c.ValidFrom) && !now.After(c.ValidUntil)
}

// IsExhausted reports whether the use budget is spent.
func (c *CouponCode) IsExhausted() bool {
	return c.MaxUses != nil && c.CurrentUses >= *c.MaxUses
}

// DiscountedAmountCents applies the percentage discount, rounding down.
func (c *CouponCode) DiscountedAmountCents(amountCents int64) int64 {
	discounted := amountCents * int64(100-c.DiscountPercentage) / 100
	if discounted < 0 {
		return 0
	}
	return discounted
}

// CouponUsage records a coupon application to one payment event. The unique
// (coupon_id, payment_event_id) pair makes Apply idempotent per event.
type CouponUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CouponID       uint      `gorm:"not null;index:ux_coupon_usages_coupon_event,unique,priority:1" json:"coupon_id"`
	PaymentEventID uint      `gorm:"not null;index:ux_coupon_usages_coupon_event,unique,priority:2" json:"payment_event_id"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
