// Package trust derives a behavioral score, a loyalty tier and an adaptive
// selling policy from a client's order history. Everything here is pure
// computation over the client snapshot; persistence belongs to the caller.
package trust

import (
	"time"

	"github.com/streamsell/streamsell/internal/client"
)

// Fraud-pattern tags attached to risky profiles.
const (
	TagPotentialFakeBuyer = "faux_acheteur_potentiel"
	TagFrequentAbandons   = "abandons_frequents"
	TagNeverPaid          = "jamais_paye"
)

type Event string

const (
	EventOrderCreated   Event = "order_created"
	EventOrderPaid      Event = "order_paid"
	EventOrderExpired   Event = "order_expired"
	EventOrderCancelled Event = "order_cancelled"
)

// EventData carries the per-event measurements ApplyEvent folds into the
// client counters.
type EventData struct {
	Amount      int64
	PaymentTime time.Duration
}

// Policy is what the rest of the system acts on: how long to hold stock for
// this client, whether to demand payment before holding, and whether the
// client is a good upsell target.
type Policy struct {
	ReservationMinutes int    `json:"reservation_minutes"`
	RequirePrePayment  bool   `json:"require_pre_payment"`
	AllowUpsell        bool   `json:"allow_upsell"`
	Priority           string `json:"priority"` // low | normal | high
}

func (p Policy) ReservationWindow() time.Duration {
	return time.Duration(p.ReservationMinutes) * time.Minute
}

type Assessment struct {
	Score  int         `json:"score"`
	Tier   client.Tier `json:"tier"`
	Tags   []string    `json:"tags"`
	Policy Policy      `json:"policy"`
}

// Engine is a stateless service object; a single instance is constructed at
// startup and shared.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate computes score, tier, fraud tags and policy from the client's
// aggregates. Deterministic given the snapshot and now.
func (e *Engine) Evaluate(c *client.Client, now time.Time) Assessment {
	score := 50

	bonus := c.SuccessfulPayments * 5
	if bonus > 25 {
		bonus = 25
	}
	score += bonus

	if c.AvgPaymentTimeSeconds > 0 && c.AvgPaymentTimeSeconds < 120 {
		score += 10
	}
	if c.TotalSpent > 100000 {
		score += 10
	}
	if c.FirstOrderAt != nil && now.Sub(*c.FirstOrderAt) > 30*24*time.Hour {
		score += 5
	}

	score -= 10 * c.ExpiredReservations

	var tags []string
	if c.ExpiredReservations > 3 && c.SuccessfulPayments < 2 {
		score -= 20
		tags = append(tags, TagPotentialFakeBuyer)
	}
	if c.TotalOrders > 4 && float64(c.ExpiredReservations)/float64(c.TotalOrders) > 0.5 {
		score -= 15
		tags = append(tags, TagFrequentAbandons)
	}
	if c.TotalOrders >= 3 && c.SuccessfulPayments == 0 {
		score -= 25
		tags = append(tags, TagNeverPaid)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	tier := tierFor(c.TotalOrders, score)

	return Assessment{
		Score:  score,
		Tier:   tier,
		Tags:   tags,
		Policy: policyFor(score, tier, tags),
	}
}

// tierFor picks the highest tier whose volume and score thresholds are met.
func tierFor(totalOrders, score int) client.Tier {
	switch {
	case totalOrders >= 10 && score >= 80:
		return client.TierDiamond
	case totalOrders >= 6 && score >= 70:
		return client.TierGold
	case totalOrders >= 3 && score >= 60:
		return client.TierSilver
	default:
		return client.TierBronze
	}
}

func policyFor(score int, tier client.Tier, tags []string) Policy {
	risky := score < 30 || len(tags) > 0
	if risky {
		return Policy{ReservationMinutes: 5, RequirePrePayment: true, AllowUpsell: false, Priority: "low"}
	}
	if (tier == client.TierDiamond || tier == client.TierGold) && score >= 75 {
		return Policy{ReservationMinutes: 15, RequirePrePayment: false, AllowUpsell: true, Priority: "high"}
	}
	if tier == client.TierSilver && score >= 65 {
		return Policy{ReservationMinutes: 12, RequirePrePayment: false, AllowUpsell: true, Priority: "normal"}
	}
	return Policy{ReservationMinutes: 10, RequirePrePayment: false, AllowUpsell: score >= 50, Priority: "normal"}
}

// ApplyEvent folds an order-lifecycle event into the client counters, then
// re-derives score, tier and tags from the updated aggregates. The score is
// always a function of the counters, never independently mutated state.
func (e *Engine) ApplyEvent(c *client.Client, event Event, data EventData, now time.Time) Assessment {
	switch event {
	case EventOrderCreated:
		c.TotalOrders++
		if c.FirstOrderAt == nil {
			t := now
			c.FirstOrderAt = &t
		}
	case EventOrderPaid:
		c.SuccessfulPayments++
		c.TotalSpent += data.Amount
		// weighted incremental mean over successful payments
		n := float64(c.SuccessfulPayments)
		c.AvgPaymentTimeSeconds = (c.AvgPaymentTimeSeconds*(n-1) + data.PaymentTime.Seconds()) / n
	case EventOrderExpired:
		c.ExpiredReservations++
	case EventOrderCancelled:
		// a deliberate abort releases stock promptly; it is not penalized
		// the way a silent expiry is
	}

	a := e.Evaluate(c, now)
	c.TrustScore = a.Score
	c.Tier = a.Tier
	c.Tags = a.Tags
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return a
}
