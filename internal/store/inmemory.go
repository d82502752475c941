// Package store provides storage backends for VentaBot.
//
// This file implements the in-memory store used by tests and throwaway runs.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/ventanet/ventabot/internal/models"
)

// InMemoryStore keeps all bot state in process memory. Nothing survives a
// restart; production runs use SQLite or PostgreSQL.
type InMemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	orders   map[int64]models.Order
	contexts map[string]models.CustomerContext
	turns    map[string][]models.ConversationTurn
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		nextID:   1,
		orders:   make(map[int64]models.Order),
		contexts: make(map[string]models.CustomerContext),
		turns:    make(map[string][]models.ConversationTurn),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// CreatePendingOrder inserts a new pending order and returns its ID.
func (s *InMemoryStore) CreatePendingOrder(o models.Order) (int64, error) {
	if o.Phone == "" {
		return 0, models.ErrEmptyPhone
	}
	if o.Days <= 0 {
		return 0, models.ErrInvalidDays
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o.ID = s.nextID
	s.nextID++
	o.Status = models.OrderStatusPending
	o.CreatedAt = time.Now()
	s.orders[o.ID] = o
	return o.ID, nil
}

// GetOrder loads an order by ID.
func (s *InMemoryStore) GetOrder(id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	return &o, nil
}

// SetOrderStatus resolves a pending order, enforcing single use.
func (s *InMemoryStore) SetOrderStatus(id int64, status models.OrderStatus) error {
	if !models.IsValidOrderStatus(status) || status == models.OrderStatusPending {
		return fmt.Errorf("invalid target order status: %s", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return models.ErrOrderNotFound
	}
	if o.Status != models.OrderStatusPending {
		return models.ErrOrderResolved
	}
	now := time.Now()
	o.Status = status
	o.ResolvedAt = &now
	s.orders[id] = o
	return nil
}

// ListPendingOrders returns every pending order, oldest first.
func (s *InMemoryStore) ListPendingOrders() ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orders []models.Order
	for id := int64(1); id < s.nextID; id++ {
		if o, ok := s.orders[id]; ok && o.Status == models.OrderStatusPending {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// GetContext loads a customer context by phone.
func (s *InMemoryStore) GetContext(phone string) (*models.CustomerContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[phone]
	if !ok {
		return nil, models.ErrContextNotFound
	}
	return &c, nil
}

// UpsertContext inserts or updates a customer context.
func (s *InMemoryStore) UpsertContext(c models.CustomerContext) error {
	if c.Phone == "" {
		return models.ErrEmptyPhone
	}
	if c.State == "" {
		c.State = models.StateIdle
	}
	c.UpdatedAt = time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.Phone] = c
	return nil
}

// AppendTurn appends one exchange to the conversation cache.
func (s *InMemoryStore) AppendTurn(t models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = int64(len(s.turns[t.Phone]) + 1)
	t.CreatedAt = time.Now()
	s.turns[t.Phone] = append(s.turns[t.Phone], t)
	return nil
}

// RecentTurns returns up to limit most recent turns in chronological order.
func (s *InMemoryStore) RecentTurns(phone string, limit int) ([]models.ConversationTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.turns[phone]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]models.ConversationTurn, len(all))
	copy(out, all)
	return out, nil
}
