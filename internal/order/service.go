package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/streamsell/streamsell/internal/catalog"
	"github.com/streamsell/streamsell/internal/client"
	"github.com/streamsell/streamsell/internal/event"
	"github.com/streamsell/streamsell/internal/sched"
	"github.com/streamsell/streamsell/internal/trust"
)

var (
	// ErrInsufficientStock is a normal business outcome: the buyer lost the
	// race for the remaining units, not a system failure.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrAlreadyFinal marks a transition attempt on an order that already
	// reached a terminal state through another path.
	ErrAlreadyFinal = errors.New("order already in a terminal state")
)

// Events receives notifications after lifecycle transitions commit. The
// conversation layer implements it to message the buyer and reset dialogue
// state; a Noop implementation keeps the service usable standalone.
type Events interface {
	OrderReminder(ctx context.Context, o *Order)
	OrderPaid(ctx context.Context, o *Order)
	OrderExpired(ctx context.Context, o *Order)
}

type NoopEvents struct{}

func (NoopEvents) OrderReminder(context.Context, *Order) {}
func (NoopEvents) OrderPaid(context.Context, *Order)     {}
func (NoopEvents) OrderExpired(context.Context, *Order)  {}

type Config struct {
	// ReminderFraction of the reservation window after which the reminder
	// fires. Must be in (0,1) so the reminder always precedes expiry.
	ReminderFraction float64
	// ReminderMinimum skips the reminder entirely for windows so short the
	// reminder would land moments before expiry.
	ReminderMinimum time.Duration
}

type CreateInput struct {
	VendorID    string
	Product     *catalog.Product
	Quantity    int
	ClientPhone string
	ClientID    string
	// Window is the reservation duration granted by the trust policy in
	// force at creation time.
	Window time.Duration
}

// Service orchestrates the order lifecycle: reserve stock, persist the
// order, schedule reminder and expiry, and drive terminal transitions.
type Service struct {
	orders    Repository
	products  catalog.Repository
	clients   client.Repository
	trust     *trust.Engine
	scheduler *sched.Scheduler
	publisher event.Publisher
	events    Events
	cfg       Config
}

func NewService(orders Repository, products catalog.Repository, clients client.Repository,
	trustEngine *trust.Engine, scheduler *sched.Scheduler, publisher event.Publisher, cfg Config) *Service {
	return &Service{
		orders:    orders,
		products:  products,
		clients:   clients,
		trust:     trustEngine,
		scheduler: scheduler,
		publisher: publisher,
		events:    NoopEvents{},
		cfg:       cfg,
	}
}

// SetEvents wires the notification sink. Called once at startup, after the
// conversation layer (which needs this service) has been constructed.
func (s *Service) SetEvents(ev Events) {
	if ev != nil {
		s.events = ev
	}
}

type eventPayload struct {
	OrderID     string `json:"order_id"`
	VendorID    string `json:"vendor_id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	TotalAmount int64  `json:"total_amount"`
	Status      Status `json:"status"`
}

func (s *Service) publish(t event.Type, o *Order) {
	s.publisher.Publish(t, o.ID, eventPayload{
		OrderID:     o.ID,
		VendorID:    o.VendorID,
		ProductID:   o.ProductID,
		Quantity:    o.Quantity,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
	})
}

// CreateOrder reserves stock and persists the order atomically from the
// caller's point of view: if the order row cannot be created after the
// reservation succeeded, the reservation is released again.
func (s *Service) CreateOrder(ctx context.Context, in CreateInput) (*Order, error) {
	if in.Quantity < 1 {
		return nil, fmt.Errorf("service: quantity must be at least 1, got %d", in.Quantity)
	}

	ok, err := s.products.ReserveStock(ctx, in.Product.ID, in.Quantity)
	if err != nil {
		return nil, fmt.Errorf("service: failed to reserve stock: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientStock
	}

	now := time.Now().UTC()
	o := &Order{
		ID:           uuid.Must(uuid.NewV4()).String(),
		VendorID:     in.VendorID,
		ProductID:    in.Product.ID,
		ClientPhone:  in.ClientPhone,
		ClientID:     in.ClientID,
		Quantity:     in.Quantity,
		UnitPrice:    in.Product.Price,
		TotalAmount:  in.Product.Price * int64(in.Quantity),
		Status:       StatusReserved,
		PaymentToken: NewPaymentToken(),
		ReservedAt:   now,
		ExpiresAt:    now.Add(in.Window),
	}

	if err := s.orders.Create(ctx, o); err != nil {
		// Mandatory compensation: a stranded reservation would leak stock
		// until someone notices.
		if relErr := s.products.ReleaseStock(ctx, in.Product.ID, in.Quantity); relErr != nil {
			log.Error().Err(relErr).Str("product_id", in.Product.ID).Int("qty", in.Quantity).
				Msg("service: failed to roll back reservation after create failure")
		}
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	s.scheduleJobs(o)
	s.applyTrust(ctx, o, trust.EventOrderCreated, trust.EventData{})
	s.publish(event.TypeOrderCreated, o)

	log.Info().Str("order_id", o.ID).Str("product_id", o.ProductID).Int("qty", o.Quantity).
		Time("expires_at", o.ExpiresAt).Msg("service: order created")
	return o, nil
}

// FinalizeAsPaid confirms the reservation after a successful payment.
// Idempotent: payment callbacks are delivered at least once, so a repeat
// call on an already-paid order is a no-op, not an error.
func (s *Service) FinalizeAsPaid(ctx context.Context, orderID, providerRef string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusPaid {
		return o, nil
	}
	if o.Status.Terminal() {
		return nil, ErrAlreadyFinal
	}

	paidAt := time.Now().UTC()
	ok, err := s.orders.Transition(ctx, o.ID, StatusPaid, &paidAt, providerRef)
	if err != nil {
		return nil, fmt.Errorf("service: failed to finalize order %s: %w", o.ID, err)
	}
	if !ok {
		// lost the race: expiry or a duplicate callback got there first
		current, err := s.orders.GetByID(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusPaid {
			return current, nil
		}
		return nil, ErrAlreadyFinal
	}

	if err := s.products.ConfirmStock(ctx, o.ProductID, o.Quantity); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("product_id", o.ProductID).
			Msg("service: failed to confirm stock for paid order")
	}
	s.scheduler.CancelAll(o.ID)

	o.Status = StatusPaid
	o.PaidAt = &paidAt
	o.ProviderRef = providerRef

	s.applyTrust(ctx, o, trust.EventOrderPaid, trust.EventData{
		Amount:      o.TotalAmount,
		PaymentTime: paidAt.Sub(o.ReservedAt),
	})
	s.publish(event.TypeOrderPaid, o)
	s.events.OrderPaid(ctx, o)

	log.Info().Str("order_id", o.ID).Str("provider_ref", providerRef).Msg("service: order paid")
	return o, nil
}

// ExpireOrder releases the reservation of an order whose window has passed.
// Safe to race against FinalizeAsPaid: whichever transition commits first
// wins, the loser observes a non-reserved status and no-ops.
func (s *Service) ExpireOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return o, nil
	}
	if time.Now().UTC().Before(o.ExpiresAt) {
		log.Warn().Str("order_id", o.ID).Time("expires_at", o.ExpiresAt).
			Msg("service: expiry attempted before the window passed")
		return o, nil
	}

	ok, err := s.orders.Transition(ctx, o.ID, StatusExpired, nil, "")
	if err != nil {
		return nil, fmt.Errorf("service: failed to expire order %s: %w", o.ID, err)
	}
	if !ok {
		return s.orders.GetByID(ctx, o.ID)
	}

	if err := s.products.ReleaseStock(ctx, o.ProductID, o.Quantity); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("product_id", o.ProductID).
			Msg("service: failed to release stock for expired order")
	}
	s.scheduler.CancelAll(o.ID)

	o.Status = StatusExpired
	s.applyTrust(ctx, o, trust.EventOrderExpired, trust.EventData{})
	s.publish(event.TypeOrderExpired, o)
	s.events.OrderExpired(ctx, o)

	log.Info().Str("order_id", o.ID).Msg("service: order expired")
	return o, nil
}

// CancelOrder handles a buyer-initiated abort before payment.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return o, nil
	}

	ok, err := s.orders.Transition(ctx, o.ID, StatusCancelled, nil, "")
	if err != nil {
		return nil, fmt.Errorf("service: failed to cancel order %s: %w", o.ID, err)
	}
	if !ok {
		return s.orders.GetByID(ctx, o.ID)
	}

	if err := s.products.ReleaseStock(ctx, o.ProductID, o.Quantity); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("product_id", o.ProductID).
			Msg("service: failed to release stock for cancelled order")
	}
	s.scheduler.CancelAll(o.ID)

	o.Status = StatusCancelled
	s.applyTrust(ctx, o, trust.EventOrderCancelled, trust.EventData{})
	s.publish(event.TypeOrderCancelled, o)

	log.Info().Str("order_id", o.ID).Msg("service: order cancelled")
	return o, nil
}

func (s *Service) scheduleJobs(o *Order) {
	window := o.ExpiresAt.Sub(o.ReservedAt)
	reminderDelay := time.Duration(float64(window) * s.cfg.ReminderFraction)

	if reminderDelay >= s.cfg.ReminderMinimum {
		orderID := o.ID
		s.scheduler.Schedule(orderID, sched.KindReminder, o.ReservedAt.Add(reminderDelay), func() {
			ctx := context.Background()
			// defensive re-check: cancellation could have raced the timer
			current, err := s.orders.GetByID(ctx, orderID)
			if err != nil || current.Status != StatusReserved {
				return
			}
			s.events.OrderReminder(ctx, current)
		})
	}

	orderID := o.ID
	s.scheduler.Schedule(orderID, sched.KindExpiration, o.ExpiresAt, func() {
		if _, err := s.ExpireOrder(context.Background(), orderID); err != nil {
			log.Error().Err(err).Str("order_id", orderID).Msg("service: expiry job failed")
		}
	})
}

// applyTrust folds a lifecycle event into the buyer's profile. A failure
// here is logged and absorbed: trust bookkeeping must never break an order.
func (s *Service) applyTrust(ctx context.Context, o *Order, ev trust.Event, data trust.EventData) {
	c, err := s.clients.GetOrCreate(ctx, o.VendorID, o.ClientPhone, "")
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("phone", o.ClientPhone).
			Msg("service: failed to load client for trust update")
		return
	}
	s.trust.ApplyEvent(c, ev, data, time.Now().UTC())
	if err := s.clients.Save(ctx, c); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("client_id", c.ID).
			Msg("service: failed to save trust update")
	}
}

// SweepExpired reconciles reserved orders whose window passed without the
// expiry timer firing, e.g. after a restart dropped the in-memory timers.
func (s *Service) SweepExpired(ctx context.Context) error {
	overdue, err := s.orders.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("service: failed to list overdue orders: %w", err)
	}
	for i := range overdue {
		if _, err := s.ExpireOrder(ctx, overdue[i].ID); err != nil {
			log.Error().Err(err).Str("order_id", overdue[i].ID).Msg("service: sweep failed to expire order")
		}
	}
	if len(overdue) > 0 {
		log.Info().Int("count", len(overdue)).Msg("service: swept overdue reservations")
	}
	return nil
}

// RunSweeper runs SweepExpired on a fixed interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepExpired(ctx); err != nil {
				log.Error().Err(err).Msg("service: sweep run failed")
			}
		}
	}
}

// Read-only vendor surface.

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

func (s *Service) GetOrderByToken(ctx context.Context, token string) (*Order, error) {
	return s.orders.GetByToken(ctx, token)
}

func (s *Service) ListVendorOrders(ctx context.Context, vendorID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.orders.ListByVendor(ctx, vendorID, limit)
}

func (s *Service) ListBuyerOrders(ctx context.Context, vendorID, phone string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return s.orders.ListByPhone(ctx, vendorID, phone, limit)
}

func (s *Service) VendorStats(ctx context.Context, vendorID string) (*Stats, error) {
	return s.orders.Stats(ctx, vendorID)
}
