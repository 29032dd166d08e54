package client

import (
	"context"
	"sync"
	"time"
)

type memoryKey struct {
	vendorID string
	phone    string
}

type MemoryRepository struct {
	mu      sync.Mutex
	clients map[memoryKey]*Client
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{clients: make(map[memoryKey]*Client)}
}

func (r *MemoryRepository) GetByPhone(_ context.Context, vendorID, phone string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[memoryKey{vendorID, phone}]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) GetOrCreate(_ context.Context, vendorID, phone, displayName string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey{vendorID, phone}
	if c, ok := r.clients[key]; ok {
		cp := *c
		return &cp, nil
	}
	c := NewClient(vendorID, phone, displayName)
	r.clients[key] = c
	cp := *c
	return &cp, nil
}

func (r *MemoryRepository) Save(_ context.Context, c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memoryKey{c.VendorID, c.Phone}
	if _, ok := r.clients[key]; !ok {
		return ErrClientNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.clients[key] = &cp
	return nil
}
