package models

import "time"

// Resource is a piece of learning content (book, course pack). GradeID and
// SubjectID are the scope dimensions checked against a subscription's
// selected scopes on scope-restricted tiers.
type Resource struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"type:varchar(255);not null" json:"title"`
	GradeID   *uint     `gorm:"default:null;index" json:"grade_id,omitempty"`
	SubjectID *uint     `gorm:"default:null;index" json:"subject_id,omitempty"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ScopeIDs lists the scope dimensions attached to the resource.
func (r *Resource) ScopeIDs() []uint {
	var ids []uint
	if r.GradeID != nil {
		ids = append(ids, *r.GradeID)
	}
	if r.SubjectID != nil {
		ids = append(ids, *r.SubjectID)
	}
	return ids
}

// MatchesScopes reports whether every scope dimension the resource carries is
// covered by the given selection. Resources without scope dimensions match
// any selection.
func (r *Resource) MatchesScopes(selected []uint) bool {
	contains := func(id uint) bool {
		for _, s := range selected {
			if s == id {
				return true
			}
		}
		return false
	}
	if r.GradeID != nil && !contains(*r.GradeID) {
		return false
	}
	if r.SubjectID != nil && !contains(*r.SubjectID) {
		return false
	}
	return true
}
