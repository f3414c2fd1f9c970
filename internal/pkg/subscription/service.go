package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// Store owns the subscription state machine. All transitions are named
// methods guarded by the row version so racing writers surface ErrConflict
// instead of silently losing a write.
type Store struct {
	repo Repository
}

// NewStore creates a subscription store from an injected repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Repo exposes the underlying repository for collaborating services.
func (s *Store) Repo() Repository {
	return s.repo
}

// ProvisionFree creates the initial free-tier grant at signup. Every user
// holds exactly one active subscription from signup onwards.
func (s *Store) ProvisionFree(ctx context.Context, userID uint) (*models.Subscription, error) {
	_ = ctx
	var created *models.Subscription
	err := s.repo.Transaction(func(tx Repository) error {
		if existing, err := tx.GetActiveByUserID(userID); err == nil {
			created = existing
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		freeTier, err := tx.GetTierByName(models.TierFree)
		if err != nil {
			return err
		}
		sub := NewFreeSubscription(userID, freeTier, time.Now())
		if err := tx.Create(sub); err != nil {
			return err
		}
		created = sub
		return nil
	})
	return created, err
}

// CancelAtPeriodEnd flags the user's active paid subscription for
// cancellation at its governing end date. Yearly grants keep is_recurring so
// the monthly quota refill continues through the prepaid term.
func (s *Store) CancelAtPeriodEnd(ctx context.Context, userID uint, reason string) (*models.Subscription, error) {
	_ = ctx
	var cancelled *models.Subscription
	err := s.repo.Transaction(func(tx Repository) error {
		sub, err := tx.GetActiveByUserIDForUpdate(userID)
		if err != nil {
			return err
		}
		if sub.Tier.Name == models.TierFree {
			return ErrNotCancellable
		}

		sub.CancelAtPeriodEnd = true
		sub.CancelReason = reason
		if sub.BillingCycle == models.BillingCycleMonthly {
			sub.IsRecurring = false
		}
		if err := tx.UpdateWithVersion(sub); err != nil {
			return err
		}
		cancelled = sub
		return nil
	})
	return cancelled, err
}

// Reactivate withdraws a pending cancellation before the term ends. A
// reactivation racing a scheduler expiry fails with ErrNotFound/ErrConflict
// instead of resurrecting a retired row.
func (s *Store) Reactivate(ctx context.Context, userID uint) (*models.Subscription, error) {
	_ = ctx
	var reactivated *models.Subscription
	err := s.repo.Transaction(func(tx Repository) error {
		sub, err := tx.GetActiveByUserIDForUpdate(userID)
		if err != nil {
			return err
		}
		if !sub.CancelAtPeriodEnd {
			return ErrNotCancelled
		}

		sub.CancelAtPeriodEnd = false
		sub.CancelReason = ""
		sub.IsRecurring = sub.BillingCycle == models.BillingCycleYearly || sub.SubscriptionEndDate == nil
		if err := tx.UpdateWithVersion(sub); err != nil {
			return err
		}
		reactivated = sub
		return nil
	})
	return reactivated, err
}

// SelectScopes records the grade/subject selection on tiers that require it.
// The selection is immutable once set; it only resets through a tier change.
func (s *Store) SelectScopes(ctx context.Context, userID uint, scopeIDs []uint) (*models.Subscription, error) {
	_ = ctx
	if len(scopeIDs) == 0 {
		return nil, NewReasonError("selection_empty", "at least one scope must be selected")
	}
	var updated *models.Subscription
	err := s.repo.Transaction(func(tx Repository) error {
		sub, err := tx.GetActiveByUserIDForUpdate(userID)
		if err != nil {
			return err
		}
		if !sub.Tier.RequiresScopeSelection() {
			return ErrSelectionImmutable
		}
		if sub.HasScopeSelection() {
			return ErrSelectionImmutable
		}

		sub.SetSelectedScopes(scopeIDs)
		if err := tx.UpdateWithVersion(sub); err != nil {
			return err
		}
		updated = sub
		return nil
	})
	return updated, err
}

// RetireToFree moves an overdue subscription to its terminal state and
// atomically replaces it with a fresh free-tier grant. due decides, against
// the locked row, whether the retirement still applies; returning false
// skips the row (another worker or a renewal got there first).
func (s *Store) RetireToFree(ctx context.Context, subID uint, now time.Time, due func(*models.Subscription) bool) (*models.Subscription, error) {
	_ = ctx
	var replacement *models.Subscription
	err := s.repo.Transaction(func(tx Repository) error {
		sub, err := tx.GetByIDForUpdate(subID)
		if err != nil {
			return err
		}
		if !sub.IsActive() || (due != nil && !due(sub)) {
			return ErrConflict
		}

		if sub.CancelAtPeriodEnd {
			sub.Status = models.SubscriptionStatusCancelled
		} else {
			sub.Status = models.SubscriptionStatusExpired
		}
		if err := tx.UpdateWithVersion(sub); err != nil {
			return err
		}

		// The retired row must be the user's only active row before the
		// replacement is inserted; anything else means the storage
		// constraint was bypassed.
		count, err := tx.CountActiveByUserID(sub.UserID)
		if err != nil {
			return err
		}
		if count != 0 {
			log.Errorf("subscription invariant violated: user %d has %d active rows during retirement of %d", sub.UserID, count, sub.ID)
			return ErrInvariantViolation
		}

		freeTier, err := tx.GetTierByName(models.TierFree)
		if err != nil {
			return err
		}
		fresh := NewFreeSubscription(sub.UserID, freeTier, now)
		if err := tx.Create(fresh); err != nil {
			return err
		}
		replacement = fresh
		return nil
	})
	return replacement, err
}

// NewFreeSubscription builds an active free-tier row with a fresh monthly
// quota period and zeroed counters.
func NewFreeSubscription(userID uint, freeTier *models.Tier, now time.Time) *models.Subscription {
	return &models.Subscription{
		UserID:          userID,
		TierID:          freeTier.ID,
		Tier:            *freeTier,
		Status:          models.SubscriptionStatusActive,
		BillingCycle:    models.BillingCycleMonthly,
		IsRecurring:     true,
		PeriodStartDate: now,
		PeriodEndDate:   now.AddDate(0, 1, 0),
	}
}
