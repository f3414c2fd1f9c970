package subscription

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// MemoryRepository is an in-memory Repository used by unit tests and local
// tooling. It enforces the same semantics as the GORM implementation: version
// guards, the one-active-row-per-user constraint and guarded usage increments.
type MemoryRepository struct {
	mu sync.Mutex
	s  *memState
}

type memState struct {
	subs      map[uint]*models.Subscription
	tiers     map[uint]*models.Tier
	users     map[uint]*models.User
	resources map[uint]*models.Resource
	nextSubID uint
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{s: &memState{
		subs:      make(map[uint]*models.Subscription),
		tiers:     make(map[uint]*models.Tier),
		users:     make(map[uint]*models.User),
		resources: make(map[uint]*models.Resource),
		nextSubID: 1,
	}}
}

// AddTier registers a catalog tier.
func (m *MemoryRepository) AddTier(tier models.Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.tiers[tier.ID] = &tier
}

// AddUser registers a user.
func (m *MemoryRepository) AddUser(user models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.users[user.ID] = &user
}

// AddResource registers a learning resource.
func (m *MemoryRepository) AddResource(res models.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s.resources[res.ID] = &res
}

// Transaction serializes the whole mutation and rolls back on error, which
// mirrors the row-locked serializable transactions of the SQL implementation.
func (m *MemoryRepository) Transaction(fn func(Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.s.clone()
	if err := fn(&memTx{s: m.s}); err != nil {
		*m.s = *snapshot
		return err
	}
	return nil
}

func (m *MemoryRepository) Create(sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.create(sub)
}

func (m *MemoryRepository) GetByID(id uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getByID(id)
}

func (m *MemoryRepository) GetByIDForUpdate(id uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getByID(id)
}

func (m *MemoryRepository) GetActiveByUserID(userID uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getActiveByUserID(userID)
}

func (m *MemoryRepository) GetActiveByUserIDForUpdate(userID uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getActiveByUserID(userID)
}

func (m *MemoryRepository) UpdateWithVersion(sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.updateWithVersion(sub)
}

func (m *MemoryRepository) IncrementTokenUsage(id uint, amount int64, limit *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.incrementTokenUsage(id, amount, limit)
}

func (m *MemoryRepository) CountActiveByUserID(userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.countActiveByUserID(userID), nil
}

func (m *MemoryRepository) ListResetDue(now time.Time, limit int) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.listResetDue(now, limit), nil
}

func (m *MemoryRepository) ListExpiryDue(now time.Time, limit int) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.listExpiryDue(now, limit), nil
}

func (m *MemoryRepository) ListScopeResetDue(limit int) ([]models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.listScopeResetDue(limit), nil
}

func (m *MemoryRepository) GetTierByID(id uint) (*models.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getTierByID(id)
}

func (m *MemoryRepository) GetTierByName(name string) (*models.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getTierByName(name)
}

func (m *MemoryRepository) GetResourceByID(id uint) (*models.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getResourceByID(id)
}

func (m *MemoryRepository) GetUserByID(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.getUserByID(id)
}

func (m *MemoryRepository) AddReferralPoints(userID uint, points int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.addReferralPoints(userID, points)
}

// memTx is the unlocked view handed to Transaction callbacks; the outer
// repository already holds the lock.
type memTx struct {
	s *memState
}

func (t *memTx) Transaction(fn func(Repository) error) error { return fn(t) }

func (t *memTx) Create(sub *models.Subscription) error { return t.s.create(sub) }
func (t *memTx) GetByID(id uint) (*models.Subscription, error) {
	return t.s.getByID(id)
}
func (t *memTx) GetByIDForUpdate(id uint) (*models.Subscription, error) {
	return t.s.getByID(id)
}
func (t *memTx) GetActiveByUserID(userID uint) (*models.Subscription, error) {
	return t.s.getActiveByUserID(userID)
}
func (t *memTx) GetActiveByUserIDForUpdate(userID uint) (*models.Subscription, error) {
	return t.s.getActiveByUserID(userID)
}
func (t *memTx) UpdateWithVersion(sub *models.Subscription) error {
	return t.s.updateWithVersion(sub)
}
func (t *memTx) IncrementTokenUsage(id uint, amount int64, limit *int64) (bool, error) {
	return t.s.incrementTokenUsage(id, amount, limit)
}
func (t *memTx) CountActiveByUserID(userID uint) (int64, error) {
	return t.s.countActiveByUserID(userID), nil
}
func (t *memTx) ListResetDue(now time.Time, limit int) ([]models.Subscription, error) {
	return t.s.listResetDue(now, limit), nil
}
func (t *memTx) ListExpiryDue(now time.Time, limit int) ([]models.Subscription, error) {
	return t.s.listExpiryDue(now, limit), nil
}
func (t *memTx) ListScopeResetDue(limit int) ([]models.Subscription, error) {
	return t.s.listScopeResetDue(limit), nil
}
func (t *memTx) GetTierByID(id uint) (*models.Tier, error)         { return t.s.getTierByID(id) }
func (t *memTx) GetTierByName(name string) (*models.Tier, error)   { return t.s.getTierByName(name) }
func (t *memTx) GetResourceByID(id uint) (*models.Resource, error) { return t.s.getResourceByID(id) }
func (t *memTx) GetUserByID(id uint) (*models.User, error)         { return t.s.getUserByID(id) }
func (t *memTx) AddReferralPoints(userID uint, points int) error {
	return t.s.addReferralPoints(userID, points)
}

func (s *memState) clone() *memState {
	c := &memState{
		subs:      make(map[uint]*models.Subscription, len(s.subs)),
		tiers:     make(map[uint]*models.Tier, len(s.tiers)),
		users:     make(map[uint]*models.User, len(s.users)),
		resources: make(map[uint]*models.Resource, len(s.resources)),
		nextSubID: s.nextSubID,
	}
	for id, sub := range s.subs {
		cp := *sub
		c.subs[id] = &cp
	}
	for id, tier := range s.tiers {
		cp := *tier
		c.tiers[id] = &cp
	}
	for id, user := range s.users {
		cp := *user
		c.users[id] = &cp
	}
	for id, res := range s.resources {
		cp := *res
		c.resources[id] = &cp
	}
	return c
}

func (s *memState) create(sub *models.Subscription) error {
	sub.SyncActiveUserKey()
	if sub.IsActive() && s.countActiveByUserID(sub.UserID) > 0 {
		return ErrAlreadyActive
	}
	if sub.ID == 0 {
		sub.ID = s.nextSubID
		s.nextSubID++
	}
	if sub.PublicID == "" {
		sub.PublicID = uuid.NewString()
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memState) getByID(id uint) (*models.Subscription, error) {
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	if tier, ok := s.tiers[sub.TierID]; ok {
		cp.Tier = *tier
	}
	return &cp, nil
}

func (s *memState) getActiveByUserID(userID uint) (*models.Subscription, error) {
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.IsActive() {
			return s.getByID(sub.ID)
		}
	}
	return nil, ErrNotFound
}

func (s *memState) updateWithVersion(sub *models.Subscription) error {
	stored, ok := s.subs[sub.ID]
	if !ok || stored.Version != sub.Version {
		return ErrConflict
	}
	sub.SyncActiveUserKey()
	if sub.IsActive() {
		for _, other := range s.subs {
			if other.ID != sub.ID && other.UserID == sub.UserID && other.IsActive() {
				return ErrAlreadyActive
			}
		}
	}
	sub.Version++
	sub.UpdatedAt = time.Now()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memState) incrementTokenUsage(id uint, amount int64, limit *int64) (bool, error) {
	stored, ok := s.subs[id]
	if !ok || !stored.IsActive() {
		return false, nil
	}
	if limit != nil && stored.TokensUsed+amount > *limit {
		return false, nil
	}
	stored.TokensUsed += amount
	stored.UpdatedAt = time.Now()
	return true, nil
}

func (s *memState) countActiveByUserID(userID uint) int64 {
	var count int64
	for _, sub := range s.subs {
		if sub.UserID == userID && sub.IsActive() {
			count++
		}
	}
	return count
}

func (s *memState) listResetDue(now time.Time, limit int) []models.Subscription {
	var out []models.Subscription
	for _, sub := range s.subs {
		if !sub.IsActive() || !sub.PeriodEndDate.Before(now) || !sub.IsRecurring {
			continue
		}
		withinTerm := sub.BillingCycle == models.BillingCycleMonthly ||
			sub.SubscriptionEndDate == nil ||
			sub.SubscriptionEndDate.After(now)
		if withinTerm {
			out = append(out, *sub)
		}
	}
	sortSubs(out)
	return capSubs(out, limit)
}

func (s *memState) listExpiryDue(now time.Time, limit int) []models.Subscription {
	var out []models.Subscription
	for _, sub := range s.subs {
		if !sub.IsActive() {
			continue
		}
		yearlyOver := sub.BillingCycle == models.BillingCycleYearly &&
			sub.SubscriptionEndDate != nil && sub.SubscriptionEndDate.Before(now)
		oneTimeOver := !sub.IsRecurring && sub.PeriodEndDate.Before(now)
		cancelledOver := sub.CancelAtPeriodEnd && sub.TermEndOrPeriodEnd().Before(now)
		if yearlyOver || oneTimeOver || cancelledOver {
			out = append(out, *sub)
		}
	}
	sortSubs(out)
	return capSubs(out, limit)
}

func (s *memState) listScopeResetDue(limit int) []models.Subscription {
	var out []models.Subscription
	for _, sub := range s.subs {
		if !sub.IsActive() || sub.SelectedScopeIDs == nil {
			continue
		}
		tier, ok := s.tiers[sub.TierID]
		if ok && !tier.RequiresScopeSelection() {
			out = append(out, *sub)
		}
	}
	sortSubs(out)
	return capSubs(out, limit)
}

func (s *memState) getTierByID(id uint) (*models.Tier, error) {
	tier, ok := s.tiers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tier
	return &cp, nil
}

func (s *memState) getTierByName(name string) (*models.Tier, error) {
	for _, tier := range s.tiers {
		if tier.Name == name {
			cp := *tier
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memState) getResourceByID(id uint) (*models.Resource, error) {
	res, ok := s.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *res
	return &cp, nil
}

func (s *memState) getUserByID(id uint) (*models.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *memState) addReferralPoints(userID uint, points int) error {
	user, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	user.ReferralPoints += points
	return nil
}

func sortSubs(subs []models.Subscription) {
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].UserID != subs[j].UserID {
			return subs[i].UserID < subs[j].UserID
		}
		return subs[i].ID < subs[j].ID
	})
}

func capSubs(subs []models.Subscription, limit int) []models.Subscription {
	if limit > 0 && len(subs) > limit {
		return subs[:limit]
	}
	return subs
}
