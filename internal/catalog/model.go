package catalog

import "time"

// Product is a unit of inventory sold during a live session. Stock is the
// total owned quantity; ReservedStock counts units held by orders that have
// not been paid yet. 0 <= ReservedStock <= Stock holds at all times.
type Product struct {
	ID            string    `json:"id"`
	VendorID      string    `json:"vendor_id"`
	Keyword       string    `json:"keyword"`
	Name          string    `json:"name"`
	Price         int64     `json:"price"` // smallest currency unit
	Stock         int       `json:"stock"`
	ReservedStock int       `json:"reserved_stock"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Available is the quantity still open for new reservations.
func (p *Product) Available() int {
	return p.Stock - p.ReservedStock
}
