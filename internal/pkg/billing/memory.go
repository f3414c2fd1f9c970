package billing

import (
	"sync"
	"time"

	"github.com/FelixBraun/StudyPilot/app/models"
)

// MemoryRepository is an in-memory payment-event store used by unit tests.
type MemoryRepository struct {
	mu     sync.Mutex
	events map[string]*models.PaymentEvent
	nextID uint
}

// NewMemoryRepository creates an empty in-memory payment-event repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: make(map[string]*models.PaymentEvent),
		nextID: 1,
	}
}

func eventKey(provider, externalEventID string) string {
	return provider + "|" + externalEventID
}

func (m *MemoryRepository) CreateEventIfNotExists(ev *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := eventKey(ev.Provider, ev.ExternalEventID)
	if stored, exists := m.events[key]; exists {
		cp := *stored
		return false, &cp, nil
	}
	ev.ID = m.nextID
	m.nextID++
	ev.CreatedAt = time.Now()
	cp := *ev
	m.events[key] = &cp
	out := *ev
	return true, &out, nil
}

func (m *MemoryRepository) MarkEventProcessed(id uint, result string, subscriptionID *uint, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.events {
		if ev.ID == id {
			now := time.Now()
			ev.Result = result
			ev.ResultSubscriptionID = subscriptionID
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
			return nil
		}
	}
	return nil
}

func (m *MemoryRepository) CountAppliedByUser(userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, ev := range m.events {
		if ev.UserID == userID && ev.Result == models.PaymentEventResultApplied {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) ListEventsByUser(userID uint, offset, limit int) ([]models.PaymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentEvent
	for _, ev := range m.events {
		if ev.UserID == userID {
			out = append(out, *ev)
		}
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
