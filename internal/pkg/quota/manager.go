package quota

import (
	"context"
	"time"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

// RemainingQuota reports the token budget after an operation. Limit and
// Remaining are nil for unlimited tiers.
type RemainingQuota struct {
	Used      int64  `json:"used"`
	Limit     *int64 `json:"limit,omitempty"`
	Remaining *int64 `json:"remaining,omitempty"`
}

// Manager mutates metered usage and owns the period reset/carryover rules.
type Manager struct {
	repo subscription.Repository
}

// NewManager creates a quota manager from an injected repository.
func NewManager(repo subscription.Repository) *Manager {
	return &Manager{repo: repo}
}

// RecordUsage adds token usage to the current period. The increment runs as a
// single guarded UPDATE so concurrent recordings cannot overshoot the limit.
func (m *Manager) RecordUsage(ctx context.Context, subID uint, amount int64) (*RemainingQuota, error) {
	_ = ctx
	if amount <= 0 {
		return nil, subscription.NewReasonError("invalid_amount", "usage amount must be positive")
	}

	sub, err := m.repo.GetByID(subID)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive() {
		return nil, subscription.ErrNotFound
	}

	limit := sub.EffectiveTokenLimit()
	applied, err := m.repo.IncrementTokenUsage(subID, amount, limit)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, subscription.ErrQuotaExceeded
	}

	used := sub.TokensUsed + amount
	return remainingQuota(used, limit), nil
}

// RecordResourceAccess marks a resource as opened, maintaining the
// most-recently-used set on capped tiers. Opening a resource already in the
// set refreshes its recency; opening a new one on a full set evicts the least
// recently used entry, which is how entry tiers keep continuity of the
// content a user is actively working with.
func (m *Manager) RecordResourceAccess(ctx context.Context, subID uint, resourceID uint) error {
	_ = ctx
	return m.repo.Transaction(func(tx subscription.Repository) error {
		sub, err := tx.GetByIDForUpdate(subID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return subscription.ErrNotFound
		}

		accessCap := sub.Tier.ResourceAccessLimit
		if accessCap == nil {
			return nil
		}

		ids := sub.AccessedResources()
		touched := touchLRU(ids, resourceID, *accessCap)
		if equalIDs(ids, touched) {
			return nil
		}
		sub.SetAccessedResources(touched)
		return tx.UpdateWithVersion(sub)
	})
}

// ResetPeriod starts a fresh quota period: usage back to zero, carryover
// override cleared, access set emptied. The new period is anchored at the
// prior period_end_date, not at the clock, so late scheduler runs do not
// accumulate drift.
func (m *Manager) ResetPeriod(ctx context.Context, subID uint) error {
	_ = ctx
	return m.repo.Transaction(func(tx subscription.Repository) error {
		sub, err := tx.GetByIDForUpdate(subID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return subscription.ErrConflict
		}

		resetPeriodFields(sub)
		return tx.UpdateWithVersion(sub)
	})
}

// ResetPeriodLocked applies the reset to an already locked row inside an
// enclosing transaction. The caller re-checks the due predicate first.
func ResetPeriodLocked(tx subscription.Repository, sub *models.Subscription) error {
	resetPeriodFields(sub)
	return tx.UpdateWithVersion(sub)
}

func resetPeriodFields(sub *models.Subscription) {
	sub.TokensUsed = 0
	sub.TokenLimitOverride = nil
	sub.SetAccessedResources(nil)
	sub.PeriodStartDate = sub.PeriodEndDate
	sub.PeriodEndDate = sub.PeriodEndDate.AddDate(0, 1, 0)
}

// EffectiveQuota reads the current token budget without mutating state.
func (m *Manager) EffectiveQuota(ctx context.Context, subID uint) (*RemainingQuota, error) {
	_ = ctx
	sub, err := m.repo.GetByID(subID)
	if err != nil {
		return nil, err
	}
	return remainingQuota(sub.TokensUsed, sub.EffectiveTokenLimit()), nil
}

// Snapshot derives the budget view from an already loaded subscription.
func Snapshot(sub *models.Subscription) *RemainingQuota {
	return remainingQuota(sub.TokensUsed, sub.EffectiveTokenLimit())
}

func remainingQuota(used int64, limit *int64) *RemainingQuota {
	q := &RemainingQuota{Used: used}
	if limit != nil {
		l := *limit
		r := l - used
		if r < 0 {
			r = 0
		}
		q.Limit = &l
		q.Remaining = &r
	}
	return q
}

// touchLRU returns the access list after opening resourceID. Index 0 is the
// least recently used entry.
func touchLRU(ids []uint, resourceID uint, accessCap int) []uint {
	if accessCap <= 0 {
		return nil
	}
	out := make([]uint, 0, len(ids)+1)
	for _, id := range ids {
		if id != resourceID {
			out = append(out, id)
		}
	}
	out = append(out, resourceID)
	if len(out) > accessCap {
		out = out[len(out)-accessCap:]
	}
	return out
}

func equalIDs(a, b []uint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NextPeriodEnd is the monthly window helper shared with the ingester.
func NextPeriodEnd(from time.Time) time.Time {
	return from.AddDate(0, 1, 0)
}
