package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FelixBraun/StudyPilot/app/models"
	"github.com/FelixBraun/StudyPilot/internal/pkg/subscription"
)

func int64Ptr(v int64) *int64 { return &v }
func intPtr(v int) *int       { return &v }

func newQuotaFixture(t *testing.T) (*subscription.MemoryRepository, *Manager) {
	t.Helper()
	repo := subscription.NewMemoryRepository()
	repo.AddTier(models.Tier{ID: 1, Name: models.TierFree, DisplayOrder: 0, TokenLimit: int64Ptr(10_000), ResourceAccessLimit: intPtr(2)})
	repo.AddTier(models.Tier{ID: 2, Name: models.TierStudent, DisplayOrder: 1, TokenLimit: int64Ptr(500_000)})
	repo.AddTier(models.Tier{ID: 3, Name: models.TierPro, DisplayOrder: 3})
	return repo, NewManager(repo)
}

func seedSub(t *testing.T, repo *subscription.MemoryRepository, tierID uint) *models.Subscription {
	t.Helper()
	now := time.Now()
	sub := &models.Subscription{
		UserID:          1,
		TierID:          tierID,
		Status:          models.SubscriptionStatusActive,
		BillingCycle:    models.BillingCycleMonthly,
		IsRecurring:     true,
		PeriodStartDate: now,
		PeriodEndDate:   now.AddDate(0, 1, 0),
	}
	require.NoError(t, repo.Create(sub))
	return sub
}

func TestRecordUsageWithinLimit(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 2)

	q, err := mgr.RecordUsage(context.Background(), sub.ID, 3_000)
	require.NoError(t, err)
	assert.Equal(t, int64(3_000), q.Used)
	require.NotNil(t, q.Remaining)
	assert.Equal(t, int64(497_000), *q.Remaining)
}

func TestRecordUsageExceedsLimit(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 2)

	_, err := mgr.RecordUsage(context.Background(), sub.ID, 499_999)
	require.NoError(t, err)

	_, err = mgr.RecordUsage(context.Background(), sub.ID, 2)
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)

	// Usage is monotonic: the rejected call must not have moved the counter.
	current, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(499_999), current.TokensUsed)
}

func TestRecordUsageUnlimitedTier(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 3)

	q, err := mgr.RecordUsage(context.Background(), sub.ID, 10_000_000)
	require.NoError(t, err)
	assert.Nil(t, q.Limit)
	assert.Nil(t, q.Remaining)
	assert.Equal(t, int64(10_000_000), q.Used)
}

func TestRecordUsageHonoursOverride(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 2)

	fetched, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	fetched.TokenLimitOverride = int64Ptr(1_000)
	require.NoError(t, repo.UpdateWithVersion(fetched))

	_, err = mgr.RecordUsage(context.Background(), sub.ID, 1_001)
	assert.ErrorIs(t, err, subscription.ErrQuotaExceeded)

	q, err := mgr.RecordUsage(context.Background(), sub.ID, 1_000)
	require.NoError(t, err)
	require.NotNil(t, q.Remaining)
	assert.Equal(t, int64(0), *q.Remaining)
}

func TestRecordUsageRejectsNonPositiveAmount(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 2)

	_, err := mgr.RecordUsage(context.Background(), sub.ID, 0)
	assert.Error(t, err)
	_, err = mgr.RecordUsage(context.Background(), sub.ID, -5)
	assert.Error(t, err)
}

func TestRecordResourceAccessEvictsLRU(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 1) // free tier, cap 2

	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 100)) // A
	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 200)) // B
	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 300)) // C evicts A

	current, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{200, 300}, current.AccessedResources())
	assert.False(t, current.HasAccessedResource(100))
}

func TestRecordResourceAccessRefreshesRecency(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 1)

	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 100))
	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 200))
	// Re-opening A makes B the eviction candidate.
	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 100))
	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 300))

	current, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{100, 300}, current.AccessedResources())
}

func TestRecordResourceAccessUncappedTierNoOp(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 3)

	require.NoError(t, mgr.RecordResourceAccess(context.Background(), sub.ID, 100))

	current, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Empty(t, current.AccessedResources())
	assert.Equal(t, 1, current.Version, "no write should have happened")
}

func TestResetPeriodAdvancesFromPriorPeriodEnd(t *testing.T) {
	repo, mgr := newQuotaFixture(t)
	sub := seedSub(t, repo, 2)

	fetched, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	priorEnd := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	fetched.PeriodStartDate = priorEnd.AddDate(0, -1, 0)
	fetched.PeriodEndDate = priorEnd
	fetched.TokensUsed = 123
	fetched.TokenLimitOverride = int64Ptr(999)
	fetched.SetAccessedResources([]uint{1, 2})
	require.NoError(t, repo.UpdateWithVersion(fetched))

	require.NoError(t, mgr.ResetPeriod(context.Background(), sub.ID))

	current, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Zero(t, current.TokensUsed)
	assert.Nil(t, current.TokenLimitOverride)
	assert.Empty(t, current.AccessedResources())
	assert.Equal(t, priorEnd, current.PeriodStartDate)
	assert.Equal(t, priorEnd.AddDate(0, 1, 0), current.PeriodEndDate)
}

func TestTouchLRU(t *testing.T) {
	tests := []struct {
		name string
		in   []uint
		id   uint
		cap  int
		want []uint
	}{
		{name: "append with room", in: []uint{1}, id: 2, cap: 3, want: []uint{1, 2}},
		{name: "evict oldest", in: []uint{1, 2}, id: 3, cap: 2, want: []uint{2, 3}},
		{name: "touch existing", in: []uint{1, 2}, id: 1, cap: 2, want: []uint{2, 1}},
		{name: "cap one", in: []uint{5}, id: 6, cap: 1, want: []uint{6}},
	}

	for _, tt := range tests {
		if got := touchLRU(tt.in, tt.id, tt.cap); !equalIDs(got, tt.want) {
			t.Fatalf("%s: touchLRU(%v, %d, %d) = %v, want %v", tt.name, tt.in, tt.id, tt.cap, got, tt.want)
		}
	}
}
