// Package ordertest provides an in-memory store that behaves like the
// Postgres repositories, for service and end-to-end tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"fsw-food-be/internal/order"
	"fsw-food-be/internal/payment"

	"github.com/google/uuid"
)

// Store implements order.Repository and payment.Repository. One mutex stands
// in for the row lock and transaction of the SQL implementation.
type Store struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*order.Order
	sessions map[string]*order.CheckoutSession
	events   map[string]order.ProcessedEvent
	checked  map[string]time.Time

	// Transitions counts status changes that were actually applied.
	Transitions int
}

var (
	_ order.Repository   = (*Store)(nil)
	_ payment.Repository = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		orders:   make(map[uuid.UUID]*order.Order),
		sessions: make(map[string]*order.CheckoutSession),
		events:   make(map[string]order.ProcessedEvent),
		checked:  make(map[string]time.Time),
	}
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Lines = append([]order.OrderLine(nil), o.Lines...)
	return &c
}

func (s *Store) CreateOrder(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, orderID uuid.UUID) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*order.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) CreateCheckoutSession(ctx context.Context, cs *order.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[cs.ExternalSessionID]; ok {
		return order.ErrSessionExists
	}
	for _, existing := range s.sessions {
		if existing.OrderID == cs.OrderID && existing.Status == order.CheckoutSessionStatusOpen {
			return order.ErrSessionExists
		}
	}
	c := *cs
	s.sessions[cs.ExternalSessionID] = &c
	return nil
}

func (s *Store) GetOpenCheckoutSession(ctx context.Context, orderID uuid.UUID) (*order.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cs := range s.sessions {
		if cs.OrderID == orderID && cs.Status == order.CheckoutSessionStatusOpen {
			c := *cs
			return &c, nil
		}
	}
	return nil, order.ErrSessionNotFound
}

func (s *Store) GetCheckoutSessionByExternalID(ctx context.Context, externalSessionID string) (*order.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[externalSessionID]
	if !ok {
		return nil, order.ErrSessionNotFound
	}
	c := *cs
	return &c, nil
}

func (s *Store) ListStaleSessions(ctx context.Context, createdBefore time.Time, limit int) ([]*order.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*order.CheckoutSession
	for _, cs := range s.sessions {
		o := s.orders[cs.OrderID]
		if cs.Status != order.CheckoutSessionStatusOpen || o == nil || o.Status != order.StatusPending {
			continue
		}
		if !cs.CreatedAt.Before(createdBefore) {
			continue
		}
		c := *cs
		out = append(out, &c)
	}
	// Never checked first, then least recently checked, then oldest.
	sort.Slice(out, func(i, j int) bool {
		ci, cj := s.checked[out[i].ExternalSessionID], s.checked[out[j].ExternalSessionID]
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkSessionChecked(ctx context.Context, externalSessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[externalSessionID]; ok {
		s.checked[externalSessionID] = at
	}
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, orderID uuid.UUID, ev order.Event, externalSessionID string) (*order.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(orderID, ev, externalSessionID)
}

func (s *Store) ApplyWebhookEvent(ctx context.Context, pe order.ProcessedEvent, orderID uuid.UUID, ev order.Event, externalSessionID string) (*order.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[pe.ExternalEventID]; ok {
		return &order.TransitionResult{Duplicate: true}, nil
	}
	res, err := s.transitionLocked(orderID, ev, externalSessionID)
	if err != nil {
		return nil, err
	}
	id := orderID
	pe.OrderID = &id
	s.events[pe.ExternalEventID] = pe
	return res, nil
}

func (s *Store) transitionLocked(orderID uuid.UUID, ev order.Event, externalSessionID string) (*order.TransitionResult, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	to, changed := order.Transition(o.Status, ev)
	res := &order.TransitionResult{From: o.Status, To: to}
	if !changed {
		return res, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	res.Applied = true
	s.Transitions++

	if cs, ok := s.sessions[externalSessionID]; ok && cs.Status == order.CheckoutSessionStatusOpen {
		cs.Status = order.SessionStatusFor(ev)
	}
	return res, nil
}

func (s *Store) HasProcessedEvent(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *Store) RecordEvent(ctx context.Context, eventID, eventType string, orderID *uuid.UUID, receivedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[eventID]; ok {
		return true, nil
	}
	s.events[eventID] = order.ProcessedEvent{
		ExternalEventID: eventID,
		EventType:       eventType,
		OrderID:         orderID,
		ReceivedAt:      receivedAt,
	}
	return false, nil
}

func (s *Store) PruneProcessedEvents(ctx context.Context, receivedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, pe := range s.events {
		if pe.ReceivedAt.Before(receivedBefore) {
			delete(s.events, id)
			n++
		}
	}
	return n, nil
}

// EventCount returns the number of ledger rows.
func (s *Store) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// Status returns the stored status of an order.
func (s *Store) Status(orderID uuid.UUID) order.OrderStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[orderID]; ok {
		return o.Status
	}
	return ""
}

// AgeSession moves a session's creation time back by d.
func (s *Store) AgeSession(externalSessionID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[externalSessionID]; ok {
		cs.CreatedAt = cs.CreatedAt.Add(-d)
	}
}
