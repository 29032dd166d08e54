package catalog

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryRepository keeps the catalog in process memory. The single mutex
// serializes reservations, which is what makes the check-and-increment in
// ReserveStock atomic.
type MemoryRepository struct {
	mu       sync.Mutex
	products map[string]*Product
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{products: make(map[string]*Product)}
}

func (r *MemoryRepository) Create(_ context.Context, product *Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	cp := *product
	r.products[product.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) GetByKeyword(_ context.Context, vendorID, keyword string) (*Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.products {
		if p.VendorID == vendorID && p.Active && strings.EqualFold(p.Keyword, keyword) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProductNotFound
}

func (r *MemoryRepository) ListByVendor(_ context.Context, vendorID string) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Product, 0)
	for _, p := range r.products {
		if p.VendorID == vendorID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return ErrProductNotFound
	}
	p.Active = active
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) ReserveStock(_ context.Context, productID string, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return false, ErrProductNotFound
	}
	if !p.Active || p.Available() < qty {
		return false, nil
	}
	p.ReservedStock += qty
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepository) ReleaseStock(_ context.Context, productID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.ReservedStock -= qty
	if p.ReservedStock < 0 {
		log.Error().Str("product_id", productID).Int("qty", qty).Msg("catalog: release drove reserved stock negative")
		p.ReservedStock = 0
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) ConfirmStock(_ context.Context, productID string, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	if p.ReservedStock < qty || p.Stock < qty {
		log.Error().Str("product_id", productID).Int("qty", qty).
			Int("stock", p.Stock).Int("reserved", p.ReservedStock).
			Msg("catalog: confirm without matching reservation")
	}
	p.Stock -= qty
	if p.Stock < 0 {
		p.Stock = 0
	}
	p.ReservedStock -= qty
	if p.ReservedStock < 0 {
		p.ReservedStock = 0
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}
