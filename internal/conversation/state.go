// Package conversation drives the per-buyer dialogue that turns chat
// messages into orders. Dialogue state is ephemeral and rebuildable; the
// Order is the durable source of truth.
package conversation

import (
	"context"
	"sync"
	"time"
)

type Step string

const (
	StepIdle             Step = "idle"
	StepBrowsing         Step = "browsing"
	StepAwaitingQuantity Step = "awaiting_quantity"
	StepConfirmingOrder  Step = "confirming_order"
	StepAwaitingPayment  Step = "awaiting_payment"
)

// State is the dialogue position of one (vendor, buyer) pair.
type State struct {
	VendorID          string    `json:"vendor_id"`
	Phone             string    `json:"phone"`
	Step              Step      `json:"step"`
	SelectedProductID string    `json:"selected_product_id,omitempty"`
	Quantity          int       `json:"quantity,omitempty"`
	OrderID           string    `json:"order_id,omitempty"`
	LastInteraction   time.Time `json:"last_interaction"`
}

// Store keeps dialogue state between messages. Get returns nil when no
// state exists or it has aged out; callers start a fresh dialogue then.
type Store interface {
	Get(ctx context.Context, vendorID, phone string) (*State, error)
	Put(ctx context.Context, s *State) error
	Delete(ctx context.Context, vendorID, phone string) error
}

type stateKey struct {
	vendorID string
	phone    string
}

type MemoryStore struct {
	mu     sync.Mutex
	states map[stateKey]*State
	ttl    time.Duration
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{states: make(map[stateKey]*State), ttl: ttl}
}

func (s *MemoryStore) Get(_ context.Context, vendorID, phone string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[stateKey{vendorID, phone}]
	if !ok {
		return nil, nil
	}
	if time.Since(st.LastInteraction) > s.ttl {
		delete(s.states, stateKey{vendorID, phone})
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.LastInteraction = time.Now().UTC()
	cp := *st
	s.states[stateKey{st.VendorID, st.Phone}] = &cp

	// lazy eviction keeps the map bounded without a background goroutine
	for k, v := range s.states {
		if time.Since(v.LastInteraction) > s.ttl {
			delete(s.states, k)
		}
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, vendorID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, stateKey{vendorID, phone})
	return nil
}
