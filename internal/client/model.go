package client

import "time"

type Tier string

const (
	TierBronze  Tier = "bronze"
	TierSilver  Tier = "silver"
	TierGold    Tier = "gold"
	TierDiamond Tier = "diamond"
)

func (t Tier) String() string {
	return string(t)
}

// Client is the append-only behavioral profile of a buyer, keyed by phone
// within a vendor. Counters only ever grow; score, tier and tags are derived
// from the counters after every order-lifecycle event and never drift on
// their own.
type Client struct {
	ID                    string     `json:"id"`
	VendorID              string     `json:"vendor_id"`
	Phone                 string     `json:"phone"`
	DisplayName           string     `json:"display_name"`
	TrustScore            int        `json:"trust_score"`
	Tier                  Tier       `json:"tier"`
	TotalOrders           int        `json:"total_orders"`
	SuccessfulPayments    int        `json:"successful_payments"`
	ExpiredReservations   int        `json:"expired_reservations"`
	TotalSpent            int64      `json:"total_spent"`
	AvgPaymentTimeSeconds float64    `json:"avg_payment_time_seconds,omitempty"`
	FirstOrderAt          *time.Time `json:"first_order_at,omitempty"`
	Tags                  []string   `json:"tags"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (c *Client) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
