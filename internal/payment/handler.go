package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/streamsell/streamsell/internal/order"
)

var ErrUnknownStatus = errors.New("unknown payment status")

// Callback is one provider notification, identified by order id or by the
// payment token embedded in the link.
type Callback struct {
	OrderID     string `json:"order_id" validate:"required_without=Token"`
	Token       string `json:"token" validate:"required_without=OrderID"`
	Status      Status `json:"status" validate:"required"`
	ProviderRef string `json:"provider_ref"`
}

// Handler folds provider callbacks into the order lifecycle. A failed or
// cancelled payment leaves the order reserved: the buyer may retry, and the
// expiry timer reclaims the stock if they never do.
type Handler struct {
	orders   *order.Service
	provider Provider
	dedup    Dedup
}

func NewHandler(orders *order.Service, provider Provider, dedup Dedup) *Handler {
	return &Handler{orders: orders, provider: provider, dedup: dedup}
}

func (h *Handler) resolve(ctx context.Context, cb Callback) (*order.Order, error) {
	if cb.OrderID != "" {
		return h.orders.GetOrder(ctx, cb.OrderID)
	}
	if cb.Token != "" {
		return h.orders.GetOrderByToken(ctx, cb.Token)
	}
	return nil, order.ErrOrderNotFound
}

// HandleCallback is safe under at-least-once delivery: deliveries that were
// processed to completion are dropped by the dedup store, and FinalizeAsPaid
// is idempotent on top of that in case the dedup store was wiped. The dedup
// key is recorded only after the lifecycle accepted the delivery; a transient
// failure leaves the key unset so the provider's retry is processed.
func (h *Handler) HandleCallback(ctx context.Context, cb Callback) (*order.Order, error) {
	o, err := h.resolve(ctx, cb)
	if err != nil {
		return nil, err
	}

	seen, err := h.dedup.Seen(ctx, o.ID, cb.Status)
	if err != nil {
		// degrade to idempotency of the lifecycle itself
		log.Warn().Err(err).Str("order_id", o.ID).Msg("payment: dedup unavailable, processing anyway")
	} else if seen {
		log.Info().Str("order_id", o.ID).Str("status", string(cb.Status)).Msg("payment: duplicate callback dropped")
		return o, nil
	}

	switch cb.Status {
	case StatusPaid:
		paid, err := h.orders.FinalizeAsPaid(ctx, o.ID, cb.ProviderRef)
		if err != nil {
			return nil, err
		}
		h.mark(ctx, paid.ID, cb.Status)
		return paid, nil
	case StatusFailed, StatusCancelled:
		log.Info().Str("order_id", o.ID).Str("status", string(cb.Status)).
			Msg("payment: attempt did not complete, reservation kept")
		h.mark(ctx, o.ID, cb.Status)
		return o, nil
	case StatusPending:
		return o, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, cb.Status)
	}
}

func (h *Handler) mark(ctx context.Context, orderID string, status Status) {
	if err := h.dedup.Mark(ctx, orderID, status); err != nil {
		log.Warn().Err(err).Str("order_id", orderID).Str("status", string(status)).
			Msg("payment: dedup mark failed")
	}
}

// Poll asks the provider for the current status of a reserved order. The
// fallback path for providers without push callbacks.
func (h *Handler) Poll(ctx context.Context, orderID string) (*order.Order, error) {
	o, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusReserved {
		return o, nil
	}

	ref := o.ProviderRef
	if ref == "" {
		ref = "link_" + o.PaymentToken
	}
	status, err := h.provider.CheckStatus(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("payment: status poll failed for order %s: %w", o.ID, err)
	}
	if status == StatusPaid {
		return h.orders.FinalizeAsPaid(ctx, o.ID, ref)
	}
	return o, nil
}
