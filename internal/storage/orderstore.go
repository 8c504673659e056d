package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/order-engine/internal/models"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrExists   = errors.New("order already exists")
)

// OrderStore defines persistence operations for orders. Implementations return
// copies; mutating a returned order never affects stored state.
type OrderStore interface {
	Create(ctx context.Context, o models.Order) error
	Get(ctx context.Context, id string) (models.Order, error)
	Update(ctx context.Context, o models.Order) error
	ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]models.Order)}
}

func (m *MemoryStore) Create(_ context.Context, o models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrExists
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, o models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return ErrNotFound
	}
	m.orders[o.ID] = o.Clone()
	return nil
}

// ListByStatus returns matching orders, oldest first.
func (m *MemoryStore) ListByStatus(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	m.mu.RLock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == status {
			out = append(out, o.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
