package order

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now
	cp := *o
	r.orders[o.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MemoryRepository) GetByToken(_ context.Context, token string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range r.orders {
		if o.PaymentToken == token {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrOrderNotFound
}

func (r *MemoryRepository) Transition(_ context.Context, id string, to Status, paidAt *time.Time, providerRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return false, ErrOrderNotFound
	}
	if o.Status != StatusReserved || !CanTransition(o.Status, to) {
		return false, nil
	}
	o.Status = to
	if paidAt != nil {
		o.PaidAt = paidAt
	}
	if providerRef != "" {
		o.ProviderRef = providerRef
	}
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) snapshot(filter func(*Order) bool) []Order {
	out := make([]Order, 0)
	for _, o := range r.orders {
		if filter(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepository) ListByVendor(_ context.Context, vendorID string, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snapshot(func(o *Order) bool { return o.VendorID == vendorID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListByPhone(_ context.Context, vendorID, phone string, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.snapshot(func(o *Order) bool { return o.VendorID == vendorID && o.ClientPhone == phone })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListExpired(_ context.Context, now time.Time) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshot(func(o *Order) bool {
		return o.Status == StatusReserved && !o.ExpiresAt.After(now)
	}), nil
}

func (r *MemoryRepository) Stats(_ context.Context, vendorID string) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &Stats{CountsByStatus: make(map[Status]int)}
	for _, o := range r.orders {
		if o.VendorID != vendorID {
			continue
		}
		stats.TotalOrders++
		stats.CountsByStatus[o.Status]++
		if o.Status == StatusPaid {
			stats.Revenue += o.TotalAmount
		}
	}
	return stats, nil
}
