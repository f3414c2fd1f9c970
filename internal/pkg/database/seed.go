package database

import (
	"log"

	"gorm.io/gorm/clause"

	"github.com/FelixBraun/StudyPilot/app/models"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

// defaultTiers is the shipped pricing catalog. Names are stable identifiers;
// prices and limits may be adjusted per environment after the first boot.
var defaultTiers = []models.Tier{
	{
		Name:                "free",
		DisplayOrder:        0,
		TokenLimit:          int64Ptr(10_000),
		ResourceAccessLimit: intPtr(3),
		IsActive:            true,
	},
	{
		Name:                   "student",
		DisplayOrder:           1,
		MonthlyPriceCents:      999,
		YearlyPriceCents:       9990,
		TokenLimit:             int64Ptr(500_000),
		RequiresGradeSelection: true,
		ReferralPointsAwarded:  50,
		IsActive:               true,
	},
	{
		Name:                     "student_plus",
		DisplayOrder:             2,
		MonthlyPriceCents:        1999,
		YearlyPriceCents:         19990,
		TokenLimit:               int64Ptr(2_000_000),
		RequiresGradeSelection:   true,
		RequiresSubjectSelection: true,
		ReferralPointsAwarded:    80,
		IsActive:                 true,
	},
	{
		Name:                  "pro",
		DisplayOrder:          3,
		MonthlyPriceCents:     3999,
		YearlyPriceCents:      39990,
		ReferralPointsAwarded: 100,
		IsActive:              true,
	},
}

// SeedTiers upserts the pricing catalog keyed by tier name. Existing rows
// keep their ordering metadata in sync but admin-tuned prices and limits are
// left alone.
func SeedTiers() {
	for i := range defaultTiers {
		tier := defaultTiers[i]
		err := DB.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "name"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_order",
				"is_active",
			}),
		}).Create(&tier).Error
		if err != nil {
			log.Printf("Failed to seed tier %s: %v", tier.Name, err)
		}
	}
}
