package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixBraun/StudyPilot/app/models"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func newTestRepo(t *testing.T) *MemoryRepository {
	t.Helper()
	repo := NewMemoryRepository()
	repo.AddTier(models.Tier{ID: 1, Name: models.TierFree, DisplayOrder: 0, TokenLimit: int64Ptr(10_000), ResourceAccessLimit: intPtr(2)})
	repo.AddTier(models.Tier{ID: 2, Name: models.TierStudent, DisplayOrder: 1, TokenLimit: int64Ptr(500_000), RequiresGradeSelection: true})
	repo.AddTier(models.Tier{ID: 3, Name: models.TierPro, DisplayOrder: 3})
	repo.AddUser(models.User{ID: 7, Name: "Lena", Email: "lena@example.com"})
	return repo
}

func TestProvisionFreeCreatesSingleActiveRow(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)

	sub, err := store.ProvisionFree(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, uint(1), sub.TierID)
	assert.True(t, sub.IsRecurring)
	assert.True(t, sub.PeriodEndDate.After(sub.PeriodStartDate))

	// A second provisioning call must return the existing row, not a duplicate.
	again, err := store.ProvisionFree(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, again.ID)

	count, err := repo.CountActiveByUserID(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateSecondActiveRowRejected(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)

	_, err := store.ProvisionFree(context.Background(), 7)
	require.NoError(t, err)

	dup := &models.Subscription{
		UserID:          7,
		TierID:          2,
		Status:          models.SubscriptionStatusActive,
		BillingCycle:    models.BillingCycleMonthly,
		PeriodStartDate: time.Now(),
		PeriodEndDate:   time.Now().AddDate(0, 1, 0),
	}
	err = repo.Create(dup)
	assert.ErrorIs(t, err, ErrAlreadyActive)
}

func seedPaidSub(t *testing.T, repo *MemoryRepository, userID uint, cycle string, termEnd *time.Time) *models.Subscription {
	t.Helper()
	now := time.Now()
	sub := &models.Subscription{
		UserID:              userID,
		TierID:              2,
		Status:              models.SubscriptionStatusActive,
		BillingCycle:        cycle,
		IsRecurring:         true,
		PeriodStartDate:     now,
		PeriodEndDate:       now.AddDate(0, 1, 0),
		SubscriptionEndDate: termEnd,
	}
	require.NoError(t, repo.Create(sub))
	return sub
}

func TestCancelAtPeriodEnd(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	sub, err := store.CancelAtPeriodEnd(context.Background(), 7, "too expensive")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, "too expensive", sub.CancelReason)
	assert.False(t, sub.IsRecurring)
}

func TestCancelYearlyKeepsRecurring(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	termEnd := time.Now().AddDate(1, 0, 0)
	seedPaidSub(t, repo, 7, models.BillingCycleYearly, &termEnd)

	sub, err := store.CancelAtPeriodEnd(context.Background(), 7, "")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.IsRecurring, "yearly quota refills must survive cancellation")
}

func TestCancelFreeRejected(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	_, err := store.ProvisionFree(context.Background(), 7)
	require.NoError(t, err)

	_, err = store.CancelAtPeriodEnd(context.Background(), 7, "")
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestReactivate(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	_, err := store.CancelAtPeriodEnd(context.Background(), 7, "")
	require.NoError(t, err)

	sub, err := store.Reactivate(context.Background(), 7)
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.True(t, sub.IsRecurring)
	assert.Empty(t, sub.CancelReason)
}

func TestReactivateWithoutPendingCancellation(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	_, err := store.Reactivate(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotCancelled)
}

func TestReactivateAfterExpiryFails(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	sub := seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	_, err := store.CancelAtPeriodEnd(context.Background(), 7, "")
	require.NoError(t, err)

	// Scheduler expiry replaces the row with a free grant.
	_, err = store.RetireToFree(context.Background(), sub.ID, time.Now(), nil)
	require.NoError(t, err)

	// The replacement free row has no pending cancellation to withdraw.
	_, err = store.Reactivate(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNotCancelled)
}

func TestUpdateWithVersionConflict(t *testing.T) {
	repo := newTestRepo(t)
	sub := seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	first, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	second, err := repo.GetByID(sub.ID)
	require.NoError(t, err)

	first.CancelAtPeriodEnd = true
	require.NoError(t, repo.UpdateWithVersion(first))

	second.CancelReason = "stale writer"
	err = repo.UpdateWithVersion(second)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRetireToFreeCreatesReplacement(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	sub := seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	fresh, err := store.RetireToFree(context.Background(), sub.ID, time.Now(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint(1), fresh.TierID)
	assert.Equal(t, models.SubscriptionStatusActive, fresh.Status)
	assert.Zero(t, fresh.TokensUsed)

	retired, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, retired.Status)

	count, err := repo.CountActiveByUserID(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRetireToFreeSkipsWhenPredicateFails(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	sub := seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	_, err := store.RetireToFree(context.Background(), sub.ID, time.Now(), func(s *models.Subscription) bool {
		return false
	})
	assert.ErrorIs(t, err, ErrConflict)

	current, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, current.Status)
}

func TestSelectScopesImmutableOnceSet(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	seedPaidSub(t, repo, 7, models.BillingCycleMonthly, nil)

	sub, err := store.SelectScopes(context.Background(), 7, []uint{101, 202})
	require.NoError(t, err)
	assert.Equal(t, []uint{101, 202}, sub.SelectedScopes())

	_, err = store.SelectScopes(context.Background(), 7, []uint{303})
	assert.ErrorIs(t, err, ErrSelectionImmutable)
}

func TestSelectScopesRejectedOnUnscopedTier(t *testing.T) {
	repo := newTestRepo(t)
	store := NewStore(repo)
	_, err := store.ProvisionFree(context.Background(), 7)
	require.NoError(t, err)

	_, err = store.SelectScopes(context.Background(), 7, []uint{101})
	assert.ErrorIs(t, err, ErrSelectionImmutable)
}

func TestReasonCode(t *testing.T) {
	assert.Equal(t, "version_conflict", ReasonCode(ErrConflict))
	assert.Equal(t, "already_active", ReasonCode(ErrAlreadyActive))
	assert.Equal(t, "internal_error", ReasonCode(assert.AnError))
}
