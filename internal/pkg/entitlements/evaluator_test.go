package entitlements

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/quota"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

func uintPtr(v uint) *uint    { return &v }
func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func seedRepo(t *testing.T) *subscription.MemoryRepository {
	t.Helper()
	repo := subscription.NewMemoryRepository()
	repo.AddTier(models.Tier{ID: 1, Name: models.TierFree, DisplayOrder: 0, TokenLimit: int64Ptr(10_000), ResourceAccessLimit: intPtr(2), IsActive: true})
	repo.AddTier(models.Tier{ID: 2, Name: models.TierStudent, DisplayOrder: 1, TokenLimit: int64Ptr(500_000), RequiresGradeSelection: true, IsActive: true})
	repo.AddTier(models.Tier{ID: 3, Name: models.TierPro, DisplayOrder: 3, IsActive: true})

	repo.AddResource(models.Resource{ID: 10, Title: "Algebra I", GradeID: uintPtr(7), IsActive: true})
	repo.AddResource(models.Resource{ID: 11, Title: "Biology", GradeID: uintPtr(7), SubjectID: uintPtr(42), IsActive: true})
	repo.AddResource(models.Resource{ID: 12, Title: "General Study Tips", IsActive: true})
	return repo
}

func activeSub(t *testing.T, repo *subscription.MemoryRepository, userID, tierID uint) *models.Subscription {
	t.Helper()
	tier, err := repo.GetTierByID(tierID)
	require.NoError(t, err)
	now := time.Now()
	sub := &models.Subscription{
		UserID:          userID,
		TierID:          tierID,
		Tier:            *tier,
		Status:          models.SubscriptionStatusActive,
		BillingCycle:    models.BillingCycleMonthly,
		IsRecurring:     true,
		PeriodStartDate: now,
		PeriodEndDate:   now.AddDate(0, 1, 0),
	}
	require.NoError(t, repo.Create(sub))
	return sub
}

func TestCanAccessResourceNoActiveSubscription(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)

	ok, err := ev.CanAccessResource(context.Background(), 99, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAccessResourceCappedTierUsesRecentSet(t *testing.T) {
	repo := seedRepo(t)
	qm := quota.NewManager(repo)
	ev := NewEvaluator(repo)
	ctx := context.Background()

	sub := activeSub(t, repo, 1, 1) // free tier, cap 2

	// Open resources 10, 11, 12 in order; the cap evicts 10.
	require.NoError(t, qm.RecordResourceAccess(ctx, sub.ID, 10))
	require.NoError(t, qm.RecordResourceAccess(ctx, sub.ID, 11))
	require.NoError(t, qm.RecordResourceAccess(ctx, sub.ID, 12))

	ok, err := ev.CanAccessResource(ctx, 1, 10)
	require.NoError(t, err)
	assert.False(t, ok, "evicted resource is no longer accessible")

	ok, err = ev.CanAccessResource(ctx, 1, 11)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ev.CanAccessResource(ctx, 1, 12)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanAccessResourceCappedTierFreeSlot(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)

	activeSub(t, repo, 1, 1)

	// Nothing opened yet: any resource fits into a free slot.
	ok, err := ev.CanAccessResource(context.Background(), 1, 12)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanAccessResourceScopeTier(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)
	ctx := context.Background()

	sub := activeSub(t, repo, 1, 2) // student tier, grade selection required

	// No selection yet: denied with the onboarding hint.
	ok, err := ev.CanAccessResource(ctx, 1, 10)
	assert.ErrorIs(t, err, subscription.ErrSelectionRequired)
	assert.False(t, ok)

	sub.SetSelectedScopes([]uint{7})
	require.NoError(t, repo.UpdateWithVersion(sub))

	ok, err = ev.CanAccessResource(ctx, 1, 10)
	require.NoError(t, err)
	assert.True(t, ok, "grade 7 resource matches the grade 7 selection")

	ok, err = ev.CanAccessResource(ctx, 1, 11)
	require.NoError(t, err)
	assert.False(t, ok, "resource also carries subject 42 which is not selected")

	ok, err = ev.CanAccessResource(ctx, 1, 12)
	require.NoError(t, err)
	assert.True(t, ok, "unscoped resources match any selection")
}

func TestCanAccessResourceUnrestrictedTier(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)

	activeSub(t, repo, 1, 3) // pro: no scopes, no cap

	for _, resID := range []uint{10, 11, 12} {
		ok, err := ev.CanAccessResource(context.Background(), 1, resID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestCanAccessResourceUnknownResource(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)

	activeSub(t, repo, 1, 3)

	_, err := ev.CanAccessResource(context.Background(), 1, 999)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}

func TestCanUseMeteredFeature(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)
	ctx := context.Background()

	sub := activeSub(t, repo, 1, 1)

	ok, err := ev.CanUseMeteredFeature(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Exhaust the 10k free budget.
	applied, err := repo.IncrementTokenUsage(sub.ID, 10_000, sub.Tier.TokenLimit)
	require.NoError(t, err)
	require.True(t, applied)

	ok, err = ev.CanUseMeteredFeature(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// No subscription at all: no metered features either.
	ok, err = ev.CanUseMeteredFeature(ctx, 99)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanUseMeteredFeatureUnlimited(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)

	activeSub(t, repo, 1, 3)

	ok, err := ev.CanUseMeteredFeature(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetEffectiveQuota(t *testing.T) {
	repo := seedRepo(t)
	ev := NewEvaluator(repo)

	sub := activeSub(t, repo, 1, 1)
	_, err := repo.IncrementTokenUsage(sub.ID, 4_000, sub.Tier.TokenLimit)
	require.NoError(t, err)

	q, err := ev.GetEffectiveQuota(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(4_000), q.Used)
	require.NotNil(t, q.Limit)
	assert.Equal(t, int64(10_000), *q.Limit)
	require.NotNil(t, q.Remaining)
	assert.Equal(t, int64(6_000), *q.Remaining)

	_, err = ev.GetEffectiveQuota(context.Background(), 99)
	assert.ErrorIs(t, err, subscription.ErrNotFound)
}
