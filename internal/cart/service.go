package cart

import (
	"sync"

	"github.com/example/order-engine/internal/keylock"
	"github.com/example/order-engine/internal/models"
)

// Service holds one cart per customer. Operations on the same customer are
// serialized; different customers proceed independently.
type Service struct {
	locks *keylock.Locker
	mu    sync.RWMutex
	carts map[string]models.CartState
}

func NewService() *Service {
	return &Service{locks: keylock.New(), carts: make(map[string]models.CartState)}
}

func (s *Service) Get(customerID string) models.CartState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(customerID)
}

func (s *Service) AddItem(customerID string, item models.CartItem) (models.CartState, *Conflict, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()
	next, conflict, err := AddItem(s.Get(customerID), item)
	if err != nil || conflict != nil {
		return next, conflict, err
	}
	s.store(next)
	return clone(next), nil, nil
}

func (s *Service) ClearAndSwitch(customerID string, item models.CartItem) (models.CartState, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()
	next, err := ClearAndSwitch(s.Get(customerID), item)
	if err != nil {
		return next, err
	}
	s.store(next)
	return clone(next), nil
}

func (s *Service) RemoveItem(customerID, productID string) models.CartState {
	unlock := s.locks.Lock(customerID)
	defer unlock()
	next := RemoveItem(s.Get(customerID), productID)
	s.store(next)
	return clone(next)
}

// Clear empties the cart and returns what it held, e.g. for checkout.
func (s *Service) Clear(customerID string) models.CartState {
	unlock := s.locks.Lock(customerID)
	defer unlock()
	prev := s.Get(customerID)
	s.mu.Lock()
	delete(s.carts, customerID)
	s.mu.Unlock()
	return prev
}

// Restore puts back a cart taken by Clear when the customer has not started
// a new one in the meantime. It reports whether c was stored.
func (s *Service) Restore(c models.CartState) bool {
	if c.Empty() {
		return false
	}
	unlock := s.locks.Lock(c.CustomerID)
	defer unlock()
	if !s.Get(c.CustomerID).Empty() {
		return false
	}
	s.store(c)
	return true
}

// load returns a copy of the stored cart. Callers hold s.mu.
func (s *Service) load(customerID string) models.CartState {
	c, ok := s.carts[customerID]
	if !ok {
		return emptyCart(customerID)
	}
	return clone(c)
}

func (s *Service) store(c models.CartState) {
	s.mu.Lock()
	s.carts[c.CustomerID] = clone(c)
	s.mu.Unlock()
}
