package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TierFree        = "free"
	TierStudent     = "student"
	TierStudentPlus = "student_plus"
	TierPro         = "pro"
)

// Tier is an immutable pricing catalog entry. DisplayOrder defines the
// upgrade/downgrade ordering between tiers.
type Tier struct {
	ID                       uint      `gorm:"primaryKey" json:"id"`
	Name                     string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"name" validate:"required,min=2,max=50"`
	DisplayOrder             int       `gorm:"not null;default:0;index" json:"display_order"`
	MonthlyPriceCents        int64     `gorm:"not null;default:0" json:"monthly_price_cents"`
	YearlyPriceCents         int64     `gorm:"not null;default:0" json:"yearly_price_cents"`
	TokenLimit               *int64    `gorm:"default:null" json:"token_limit,omitempty"`
	ResourceAccessLimit      *int      `gorm:"default:null" json:"resource_access_limit,omitempty"`
	RequiresGradeSelection   bool      `gorm:"default:false" json:"requires_grade_selection"`
	RequiresSubjectSelection bool      `gorm:"default:false" json:"requires_subject_selection"`
	ReferralPointsAwarded    int       `gorm:"not null;default:0" json:"referral_points_awarded"`
	ReferralPointsCost       int       `gorm:"not null;default:0" json:"referral_points_cost"`
	IsActive                 bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt                time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Tier) Validate() error {
	v := validator.New()

	return v.Struct(t)
}

// HasUnlimitedTokens reports whether the tier carries no token quota.
func (t *Tier) HasUnlimitedTokens() bool {
	return t.TokenLimit == nil
}

// HasUnlimitedResourceAccess reports whether the tier caps concurrent resource access.
func (t *Tier) HasUnlimitedResourceAccess() bool {
	return t.ResourceAccessLimit == nil
}

// RequiresScopeSelection reports whether the tier needs a grade/subject
// selection before scoped content can be served.
func (t *Tier) RequiresScopeSelection() bool {
	return t.RequiresGradeSelection || t.RequiresSubjectSelection
}

// IsUpgradeFrom reports whether moving from other to t is a strict upgrade.
func (t *Tier) IsUpgradeFrom(other *Tier) bool {
	return other != nil && t.DisplayOrder > other.DisplayOrder
}

// PriceCentsFor returns the catalog price for the given billing cycle.
func (t *Tier) PriceCentsFor(billingCycle string) int64 {
	if billingCycle == BillingCycleYearly {
		return t.YearlyPriceCents
	}
	return t.MonthlyPriceCents
}
