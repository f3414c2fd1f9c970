package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
	SubscriptionStatusSuspended = "suspended"
)

const (
	BillingCycleMonthly = "monthly"
	BillingCycleYearly  = "yearly"
)

const (
	PaymentTypeOneTime   = "one_time"
	PaymentTypeRecurring = "recurring"
)

// Subscription is one contractual grant of a tier to a user. A user has at
// most one active row at any time; the ActiveUserKey column mirrors UserID
// while the row is active and is NULL otherwise, so the unique index on it
// enforces the one-active-row rule in storage rather than in application code.
type Subscription struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	PublicID            string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"public_id"`
	UserID              uint       `gorm:"not null;index" json:"user_id"`
	TierID              uint       `gorm:"not null;index" json:"tier_id"`
	Tier                Tier       `gorm:"foreignKey:TierID" json:"tier,omitempty"`
	Status              string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	ActiveUserKey       *uint      `gorm:"uniqueIndex:ux_subscriptions_active_user" json:"-"`
	BillingCycle        string     `gorm:"type:varchar(10);not null;default:'monthly'" json:"billing_cycle"`
	PaymentProvider     string     `gorm:"type:varchar(30);not null;default:''" json:"payment_provider"`
	IsRecurring         bool       `gorm:"default:false" json:"is_recurring"`
	CancelAtPeriodEnd   bool       `gorm:"default:false" json:"cancel_at_period_end"`
	CancelReason        string     `gorm:"type:varchar(500);default:''" json:"cancel_reason,omitempty"`
	PeriodStartDate     time.Time  `gorm:"type:timestamp;not null" json:"period_start_date"`
	PeriodEndDate       time.Time  `gorm:"type:timestamp;not null;index" json:"period_end_date"`
	SubscriptionEndDate *time.Time `gorm:"type:timestamp;default:null;index" json:"subscription_end_date,omitempty"`
	TokensUsed          int64      `gorm:"column:tokens_used_current_period;not null;default:0" json:"tokens_used_current_period"`
	TokenLimitOverride  *int64     `gorm:"default:null" json:"token_limit_override,omitempty"`
	ResourceAccessCount int        `gorm:"column:resource_access_count_current_period;not null;default:0" json:"resource_access_count_current_period"`
	AccessedResourceIDs string     `gorm:"type:text;not null;default:''" json:"-"`
	SelectedScopeIDs    *string    `gorm:"type:text;default:null" json:"-"`
	Version             int        `gorm:"not null;default:1" json:"version"`
	CreatedAt           time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the public ID and synchronizes the active-user key.
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.PublicID == "" {
		s.PublicID = uuid.NewString()
	}
	if s.Version == 0 {
		s.Version = 1
	}
	s.SyncActiveUserKey()
	return nil
}

// SyncActiveUserKey mirrors UserID into ActiveUserKey while the row is active.
// Must be called before persisting any status change.
func (s *Subscription) SyncActiveUserKey() {
	if s.Status == SubscriptionStatusActive {
		uid := s.UserID
		s.ActiveUserKey = &uid
	} else {
		s.ActiveUserKey = nil
	}
}

// IsActive reports whether the subscription currently entitles the user.
func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// IsTerminal reports whether the subscription reached a historical state.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// EffectiveTokenLimit returns the token quota in effect for the current
// period: the carryover override when set, otherwise the tier limit.
// A nil result means unlimited. Requires Tier to be loaded.
func (s *Subscription) EffectiveTokenLimit() *int64 {
	if s.TokenLimitOverride != nil {
		v := *s.TokenLimitOverride
		return &v
	}
	if s.Tier.TokenLimit != nil {
		v := *s.Tier.TokenLimit
		return &v
	}
	return nil
}

// RemainingTokens returns the tokens left in the current period, or nil for
// unlimited. Never negative.
func (s *Subscription) RemainingTokens() *int64 {
	limit := s.EffectiveTokenLimit()
	if limit == nil {
		return nil
	}
	remaining := *limit - s.TokensUsed
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

// AccessedResources decodes the ordered most-recently-used resource ID list.
// Index 0 is the least recently used entry.
func (s *Subscription) AccessedResources() []uint {
	if s.AccessedResourceIDs == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(s.AccessedResourceIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetAccessedResources encodes the ordered resource ID list and keeps the
// access counter in sync.
func (s *Subscription) SetAccessedResources(ids []uint) {
	if len(ids) == 0 {
		s.AccessedResourceIDs = ""
		s.ResourceAccessCount = 0
		return
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	s.AccessedResourceIDs = string(raw)
	s.ResourceAccessCount = len(ids)
}

// HasAccessedResource reports membership in the most-recently-used set.
func (s *Subscription) HasAccessedResource(resourceID uint) bool {
	for _, id := range s.AccessedResources() {
		if id == resourceID {
			return true
		}
	}
	return false
}

// SelectedScopes decodes the grade/subject scope selection, nil when unset.
func (s *Subscription) SelectedScopes() []uint {
	if s.SelectedScopeIDs == nil || *s.SelectedScopeIDs == "" {
		return nil
	}
	var ids []uint
	if err := json.Unmarshal([]byte(*s.SelectedScopeIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetSelectedScopes stores the scope selection; passing an empty slice clears it.
func (s *Subscription) SetSelectedScopes(ids []uint) {
	if len(ids) == 0 {
		s.SelectedScopeIDs = nil
		return
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return
	}
	v := string(raw)
	s.SelectedScopeIDs = &v
}

// HasScopeSelection reports whether a scope selection has been made.
func (s *Subscription) HasScopeSelection() bool {
	return len(s.SelectedScopes()) > 0
}

// HasSelectedScope reports whether the given scope ID is part of the selection.
func (s *Subscription) HasSelectedScope(scopeID uint) bool {
	for _, id := range s.SelectedScopes() {
		if id == scopeID {
			return true
		}
	}
	return false
}

// TermEndOrPeriodEnd returns the date that governs a pending cancellation:
// the contractual term end when one exists, otherwise the quota period end.
func (s *Subscription) TermEndOrPeriodEnd() time.Time {
	if s.SubscriptionEndDate != nil {
		return *s.SubscriptionEndDate
	}
	return s.PeriodEndDate
}
