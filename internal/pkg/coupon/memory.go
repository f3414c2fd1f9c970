package coupon

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// MemoryRepository is an in-memory coupon store used by unit tests.
type MemoryRepository struct {
	mu        sync.Mutex
	coupons   map[uint]*models.CouponCode
	usages    map[[2]uint]struct{}
	nextID    uint
	nextUsage uint
}

// NewMemoryRepository creates an empty in-memory coupon repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		coupons:   make(map[uint]*models.CouponCode),
		usages:    make(map[[2]uint]struct{}),
		nextID:    1,
		nextUsage: 1,
	}
}

func (m *MemoryRepository) Transaction(fn func(Repository) error) error {
	m.mu.Lock()
	couponsSnap := make(map[uint]*models.CouponCode, len(m.coupons))
	for id, c := range m.coupons {
		cp := *c
		couponsSnap[id] = &cp
	}
	usagesSnap := make(map[[2]uint]struct{}, len(m.usages))
	for k := range m.usages {
		usagesSnap[k] = struct{}{}
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.coupons = couponsSnap
		m.usages = usagesSnap
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryRepository) GetValidByCode(code string, now time.Time) (*models.CouponCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalized := models.NormalizeCouponCode(code)
	for _, c := range m.coupons {
		if c.Code != normalized || !c.IsActive {
			continue
		}
		if !c.IsWithinWindow(now) || c.IsExhausted() {
			continue
		}
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *MemoryRepository) GetByID(id uint) (*models.CouponCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryRepository) CreateUsageIfNotExists(usage *models.CouponUsage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uint{usage.CouponID, usage.PaymentEventID}
	if _, exists := m.usages[key]; exists {
		return false, nil
	}
	m.usages[key] = struct{}{}
	usage.ID = m.nextUsage
	m.nextUsage++
	usage.CreatedAt = time.Now()
	return true, nil
}

func (m *MemoryRepository) IncrementUses(couponID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coupons[couponID]
	if !ok || c.IsExhausted() {
		return false, nil
	}
	c.CurrentUses++
	return true, nil
}

func (m *MemoryRepository) Create(c *models.CouponCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.coupons {
		if existing.Code == c.Code {
			return ErrCodeTaken
		}
	}
	if c.ID == 0 {
		c.ID = m.nextID
		m.nextID++
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.coupons[c.ID] = &cp
	return nil
}

func (m *MemoryRepository) List(offset, limit int) ([]models.CouponCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CouponCode
	for _, c := range m.coupons {
		out = append(out, *c)
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
