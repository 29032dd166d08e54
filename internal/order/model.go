package order

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusReserved  Status = "reserved"
	StatusPaid      Status = "paid"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// Terminal statuses absorb: no transition ever leaves them.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusExpired || s == StatusCancelled
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusReserved:  {StatusPaid: true, StatusExpired: true, StatusCancelled: true},
	StatusPaid:      {},
	StatusExpired:   {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Order is the authoritative record of one reservation. ExpiresAt is fixed
// at creation from the policy in force at that moment and never moves.
type Order struct {
	ID           string     `json:"id"`
	VendorID     string     `json:"vendor_id"`
	ProductID    string     `json:"product_id"`
	ClientPhone  string     `json:"client_phone"`
	ClientID     string     `json:"client_id,omitempty"`
	Quantity     int        `json:"quantity"`
	UnitPrice    int64      `json:"unit_price"`
	TotalAmount  int64      `json:"total_amount"`
	Status       Status     `json:"status"`
	PaymentToken string     `json:"payment_token"`
	ProviderRef  string     `json:"provider_ref,omitempty"`
	ReservedAt   time.Time  `json:"reserved_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	PaidAt       *time.Time `json:"paid_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Stats is the vendor-facing aggregate projection over orders.
type Stats struct {
	TotalOrders    int            `json:"total_orders"`
	CountsByStatus map[Status]int `json:"counts_by_status"`
	Revenue        int64          `json:"revenue"` // sum of paid totals
}

// NewPaymentToken returns a unique, unguessable token: UUIDv4 plus 8 random
// bytes so the token never collides with plain order ids.
func NewPaymentToken() string {
	suffix := make([]byte, 8)
	_, _ = rand.Read(suffix)
	return uuid.Must(uuid.NewV4()).String() + "-" + hex.EncodeToString(suffix)
}
