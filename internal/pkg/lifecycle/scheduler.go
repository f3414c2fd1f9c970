package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/quota"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

// batchSize bounds how many overdue rows one pass loads at a time.
const batchSize = 500

// Report summarizes one scheduler run.
type Report struct {
	ResetCount        int `json:"reset_count"`
	ExpiredCount      int `json:"expired_count"`
	ScopeClearedCount int `json:"scope_cleared_count"`
	SkippedCount      int `json:"skipped_count"`
}

// Scheduler runs the periodic subscription maintenance passes. Every pass is
// idempotent and safe under overlapping invocations: each row is re-locked
// and its due predicate re-checked inside its own transaction, and a version
// conflict just skips the row until the next run.
type Scheduler struct {
	repo  subscription.Repository
	store *subscription.Store
	quota *quota.Manager
}

// NewScheduler creates a lifecycle scheduler from an injected repository.
func NewScheduler(repo subscription.Repository) *Scheduler {
	return &Scheduler{
		repo:  repo,
		store: subscription.NewStore(repo),
		quota: quota.NewManager(repo),
	}
}

// NewSchedulerFromDB wires a scheduler against a GORM DB handle.
func NewSchedulerFromDB(db *gorm.DB) *Scheduler {
	return NewScheduler(subscription.NewRepository(db))
}

// RunAll executes the three maintenance passes in order: quota resets, term
// expirations with free-tier replacement, then scope-selection cleanup.
func (s *Scheduler) RunAll(ctx context.Context) (*Report, error) {
	now := time.Now()
	report := &Report{}

	if err := s.runResetPass(ctx, now, report); err != nil {
		return report, err
	}
	if err := s.runExpiryPass(ctx, now, report); err != nil {
		return report, err
	}
	if err := s.runScopeResetPass(ctx, report); err != nil {
		return report, err
	}

	log.Infof("lifecycle run: %d resets, %d expirations, %d scope resets, %d skipped",
		report.ResetCount, report.ExpiredCount, report.ScopeClearedCount, report.SkippedCount)
	return report, nil
}

// runResetPass refills the monthly token budget of every active recurring
// subscription whose period lapsed, including cancelled yearly subscriptions
// that still have prepaid term left.
func (s *Scheduler) runResetPass(ctx context.Context, now time.Time, report *Report) error {
	for {
		due, err := s.repo.ListResetDue(now, batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		progressed := false
		for i := range due {
			err := s.repo.Transaction(func(tx subscription.Repository) error {
				sub, err := tx.GetByIDForUpdate(due[i].ID)
				if err != nil {
					return err
				}
				if !resetStillDue(sub, now) {
					return subscription.ErrConflict
				}
				return quota.ResetPeriodLocked(tx, sub)
			})
			switch {
			case err == nil:
				report.ResetCount++
				progressed = true
			case errors.Is(err, subscription.ErrConflict), errors.Is(err, subscription.ErrNotFound):
				report.SkippedCount++
			default:
				return err
			}
		}
		// Skipped-only batches repeat forever once the due predicate went
		// stale for every row; the next scheduled run picks them up.
		if !progressed || len(due) < batchSize {
			return nil
		}
	}
}

// runExpiryPass retires overdue subscriptions and replaces each with a free
// grant. The due set is collapsed to one row per user: an aberrant second
// overdue row for the same user is resolved on the next run, after the first
// retirement has settled.
func (s *Scheduler) runExpiryPass(ctx context.Context, now time.Time, report *Report) error {
	for {
		due, err := s.repo.ListExpiryDue(now, batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		perUser := dedupeByUser(due)
		progressed := false
		for _, sub := range perUser {
			_, err := s.store.RetireToFree(ctx, sub.ID, now, func(locked *models.Subscription) bool {
				return expiryStillDue(locked, now)
			})
			switch {
			case err == nil:
				report.ExpiredCount++
				progressed = true
			case errors.Is(err, subscription.ErrConflict), errors.Is(err, subscription.ErrNotFound):
				report.SkippedCount++
			case errors.Is(err, subscription.ErrInvariantViolation):
				// Logged inside RetireToFree; leave the row for operator
				// inspection instead of failing the whole run.
				report.SkippedCount++
			default:
				return err
			}
		}
		if !progressed || len(due) < batchSize {
			return nil
		}
	}
}

// runScopeResetPass clears stale grade/subject selections on subscriptions
// whose tier no longer requires one, which happens when the expiry pass
// downgraded a user to free.
func (s *Scheduler) runScopeResetPass(ctx context.Context, report *Report) error {
	for {
		due, err := s.repo.ListScopeResetDue(batchSize)
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		progressed := false
		for i := range due {
			err := s.repo.Transaction(func(tx subscription.Repository) error {
				sub, err := tx.GetByIDForUpdate(due[i].ID)
				if err != nil {
					return err
				}
				if !sub.IsActive() || !sub.HasScopeSelection() || sub.Tier.RequiresScopeSelection() {
					return subscription.ErrConflict
				}
				sub.SetSelectedScopes(nil)
				return tx.UpdateWithVersion(sub)
			})
			switch {
			case err == nil:
				report.ScopeClearedCount++
				progressed = true
			case errors.Is(err, subscription.ErrConflict), errors.Is(err, subscription.ErrNotFound):
				report.SkippedCount++
			default:
				return err
			}
		}
		if !progressed || len(due) < batchSize {
			return nil
		}
	}
}

// resetStillDue re-checks the quota-reset predicate against the locked row.
func resetStillDue(sub *models.Subscription, now time.Time) bool {
	if !sub.IsActive() || !sub.IsRecurring || !sub.PeriodEndDate.Before(now) {
		return false
	}
	return sub.BillingCycle == models.BillingCycleMonthly ||
		sub.SubscriptionEndDate == nil ||
		sub.SubscriptionEndDate.After(now)
}

// expiryStillDue re-checks the term-expiration predicate against the locked row.
func expiryStillDue(sub *models.Subscription, now time.Time) bool {
	if !sub.IsActive() {
		return false
	}
	yearlyOver := sub.BillingCycle == models.BillingCycleYearly &&
		sub.SubscriptionEndDate != nil && sub.SubscriptionEndDate.Before(now)
	oneTimeOver := !sub.IsRecurring && sub.PeriodEndDate.Before(now)
	cancelledOver := sub.CancelAtPeriodEnd && sub.TermEndOrPeriodEnd().Before(now)
	return yearlyOver || oneTimeOver || cancelledOver
}

func dedupeByUser(subs []models.Subscription) []models.Subscription {
	seen := make(map[uint]struct{}, len(subs))
	out := make([]models.Subscription, 0, len(subs))
	for _, sub := range subs {
		if _, dup := seen[sub.UserID]; dup {
			continue
		}
		seen[sub.UserID] = struct{}{}
		out = append(out, sub)
	}
	return out
}
