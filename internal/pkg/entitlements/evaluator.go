package entitlements

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/FelixBraun/StudyPilot/internal/pkg/quota"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

// Evaluator answers "may this user do X right now" questions from the user's
// active subscription. It never mutates state: it runs on every
// content-serving request, so every answer is a plain read.
type Evaluator struct {
	repo subscription.Repository
}

// NewEvaluator creates an access-policy evaluator from an injected repository.
func NewEvaluator(repo subscription.Repository) *Evaluator {
	return &Evaluator{repo: repo}
}

// NewEvaluatorFromDB wires an evaluator against a GORM DB handle.
func NewEvaluatorFromDB(db *gorm.DB) *Evaluator {
	return NewEvaluator(subscription.NewRepository(db))
}

// CanAccessResource decides whether the user may open the given resource.
//
// Scope-restricted tiers require a completed grade/subject selection and the
// resource must match it; without a selection the answer is false together
// with ErrSelectionRequired so callers can prompt for the onboarding step.
// Tiers with a resource-access cap admit resources that are in the
// most-recently-opened set or that still fit into a free slot; actually
// opening one (and evicting the oldest on a full set) is the quota manager's
// mutating RecordResourceAccess. Tiers with neither restriction admit
// everything.
func (e *Evaluator) CanAccessResource(ctx context.Context, userID uint, resourceID uint) (bool, error) {
	_ = ctx
	sub, err := e.repo.GetActiveByUserID(userID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	res, err := e.repo.GetResourceByID(resourceID)
	if err != nil {
		return false, err
	}

	if sub.Tier.RequiresScopeSelection() {
		if !sub.HasScopeSelection() {
			return false, subscription.ErrSelectionRequired
		}
		return res.MatchesScopes(sub.SelectedScopes()), nil
	}

	if accessCap := sub.Tier.ResourceAccessLimit; accessCap != nil {
		if sub.HasAccessedResource(resourceID) {
			return true, nil
		}
		return len(sub.AccessedResources()) < *accessCap, nil
	}

	return true, nil
}

// CanUseMeteredFeature reports whether the user has token budget left in the
// current period. Unlimited tiers always answer true.
func (e *Evaluator) CanUseMeteredFeature(ctx context.Context, userID uint) (bool, error) {
	_ = ctx
	sub, err := e.repo.GetActiveByUserID(userID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	limit := sub.EffectiveTokenLimit()
	if limit == nil {
		return true, nil
	}
	return sub.TokensUsed < *limit, nil
}

// GetEffectiveQuota returns the user's current token budget snapshot.
func (e *Evaluator) GetEffectiveQuota(ctx context.Context, userID uint) (*quota.RemainingQuota, error) {
	_ = ctx
	sub, err := e.repo.GetActiveByUserID(userID)
	if err != nil {
		return nil, err
	}
	return quota.Snapshot(sub), nil
}
