package conversation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streamsell/streamsell/internal/catalog"
	"github.com/streamsell/streamsell/internal/chat"
	"github.com/streamsell/streamsell/internal/client"
	"github.com/streamsell/streamsell/internal/order"
	"github.com/streamsell/streamsell/internal/payment"
	"github.com/streamsell/streamsell/internal/template"
	"github.com/streamsell/streamsell/internal/trust"
)

var greetingWords = map[string]bool{
	"bonjour": true, "bonsoir": true, "salut": true, "hello": true, "bjr": true, "cc": true,
}

var helpWords = map[string]bool{
	"aide": true, "help": true, "menu": true,
}

var statusWords = map[string]bool{
	"statut": true, "status": true, "commandes": true,
}

var confirmWords = map[string]bool{
	"oui": true, "ok": true, "confirmer": true, "confirme": true,
}

var cancelWords = map[string]bool{
	"non": true, "annuler": true, "cancel": true, "stop": true,
}

// Machine turns inbound chat events into dialogue steps and, on confirm,
// into orders. One instance serves all buyers; all per-buyer data lives in
// the state store.
type Machine struct {
	states    Store
	products  catalog.Repository
	clients   client.Repository
	trust     *trust.Engine
	orders    *order.Service
	provider  payment.Provider
	renderer  *template.Renderer
	transport chat.Transport

	mu             sync.RWMutex
	defaultSegment template.Segment
	segments       map[string]template.Segment
}

func NewMachine(states Store, products catalog.Repository, clients client.Repository,
	trustEngine *trust.Engine, orders *order.Service, provider payment.Provider,
	renderer *template.Renderer, transport chat.Transport, defaultSegment template.Segment) *Machine {
	return &Machine{
		states:         states,
		products:       products,
		clients:        clients,
		trust:          trustEngine,
		orders:         orders,
		provider:       provider,
		renderer:       renderer,
		transport:      transport,
		defaultSegment: defaultSegment,
		segments:       make(map[string]template.Segment),
	}
}

// SetVendorSegment overrides the template set for one vendor.
func (m *Machine) SetVendorSegment(vendorID string, seg template.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[vendorID] = seg
}

func (m *Machine) segmentFor(vendorID string) template.Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if seg, ok := m.segments[vendorID]; ok {
		return seg
	}
	return m.defaultSegment
}

// send delivers one rendered message. Delivery failures are logged only:
// the order's expiry timer is the recovery path if the buyer never sees it.
func (m *Machine) send(ctx context.Context, phone string, msg template.Message) {
	var err error
	if len(msg.Buttons) > 0 {
		err = m.transport.SendButtons(ctx, phone, msg.Text, msg.Buttons)
	} else {
		err = m.transport.SendText(ctx, phone, msg.Text)
	}
	if err != nil {
		log.Error().Err(err).Str("phone", phone).Msg("conversation: outbound send failed")
	}
}

func (m *Machine) render(vendorID string, name template.Name, ctx map[string]any) template.Message {
	return m.renderer.Render(m.segmentFor(vendorID), name, ctx, time.Now().UTC())
}

func productCtx(p *catalog.Product) map[string]any {
	return map[string]any{
		"name":      p.Name,
		"keyword":   p.Keyword,
		"price":     p.Price,
		"available": p.Available(),
	}
}

func clientCtx(c *client.Client) map[string]any {
	return map[string]any{
		"display_name":        c.DisplayName,
		"tier":                string(c.Tier),
		"successful_payments": c.SuccessfulPayments,
	}
}

// HandleInbound processes one buyer event end to end and persists the
// resulting dialogue state.
func (m *Machine) HandleInbound(ctx context.Context, in chat.Inbound) error {
	st, err := m.states.Get(ctx, in.VendorID, in.FromPhone)
	if err != nil {
		return err
	}
	if st == nil {
		st = &State{VendorID: in.VendorID, Phone: in.FromPhone, Step: StepIdle}
	}

	c, err := m.clients.GetOrCreate(ctx, in.VendorID, in.FromPhone, in.FromDisplayName)
	if err != nil {
		return err
	}

	if in.Kind == chat.KindButton {
		if err := m.handleButton(ctx, st, c, in.ButtonID); err != nil {
			return err
		}
		return m.states.Put(ctx, st)
	}

	text := strings.TrimSpace(in.Text)
	lower := strings.ToLower(text)

	// help and status answer from any state without touching it
	if helpWords[lower] {
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameHelp, nil))
		return m.states.Put(ctx, st)
	}
	if statusWords[lower] {
		m.sendStatus(ctx, st)
		return m.states.Put(ctx, st)
	}

	if err := m.handleText(ctx, st, c, text, lower); err != nil {
		return err
	}
	return m.states.Put(ctx, st)
}

func (m *Machine) handleButton(ctx context.Context, st *State, c *client.Client, buttonID string) error {
	if st.Step != StepConfirmingOrder {
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameUnknownKeyword, nil))
		return nil
	}
	switch buttonID {
	case template.ButtonConfirm:
		return m.confirmOrder(ctx, st, c)
	case template.ButtonCancel:
		m.resetDialogue(st)
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameOrderCancelled, nil))
		return nil
	default:
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameUnknownKeyword, nil))
		return nil
	}
}

func (m *Machine) handleText(ctx context.Context, st *State, c *client.Client, text, lower string) error {
	switch st.Step {
	case StepIdle, StepBrowsing:
		return m.handleBrowsing(ctx, st, c, text, lower)

	case StepAwaitingQuantity:
		return m.handleQuantity(ctx, st, text, lower)

	case StepConfirmingOrder:
		if confirmWords[lower] {
			return m.confirmOrder(ctx, st, c)
		}
		if cancelWords[lower] {
			m.resetDialogue(st)
			m.send(ctx, st.Phone, m.render(st.VendorID, template.NameOrderCancelled, nil))
			return nil
		}
		return m.sendSummary(ctx, st)

	case StepAwaitingPayment:
		return m.handleAwaitingPayment(ctx, st, c, text, lower)

	default:
		m.resetDialogue(st)
		return m.handleBrowsing(ctx, st, c, text, lower)
	}
}

func (m *Machine) handleBrowsing(ctx context.Context, st *State, c *client.Client, text, lower string) error {
	if lower == "" || greetingWords[lower] {
		st.Step = StepBrowsing
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameWelcome, map[string]any{
			"vendor": map[string]any{"name": st.VendorID},
			"client": clientCtx(c),
		}))
		return nil
	}

	p, err := m.products.GetByKeyword(ctx, st.VendorID, text)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			m.send(ctx, st.Phone, m.render(st.VendorID, template.NameUnknownKeyword, nil))
			return nil
		}
		return err
	}

	if p.Available() <= 0 {
		st.Step = StepBrowsing
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameOutOfStock, map[string]any{
			"product": productCtx(p),
		}))
		return nil
	}

	st.Step = StepAwaitingQuantity
	st.SelectedProductID = p.ID
	st.Quantity = 0
	m.send(ctx, st.Phone, m.render(st.VendorID, template.NameQuantityPrompt, map[string]any{
		"product": productCtx(p),
	}))
	return nil
}

func (m *Machine) handleQuantity(ctx context.Context, st *State, text, lower string) error {
	if cancelWords[lower] {
		m.resetDialogue(st)
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameOrderCancelled, nil))
		return nil
	}

	p, err := m.products.GetByID(ctx, st.SelectedProductID)
	if err != nil {
		return err
	}

	qty, convErr := strconv.Atoi(text)
	if convErr != nil || qty < 1 || qty > p.Available() {
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameInvalidQuantity, map[string]any{
			"product": productCtx(p),
		}))
		return nil
	}

	// stock is checked but not held; the hold happens on confirm
	st.Step = StepConfirmingOrder
	st.Quantity = qty
	return m.sendSummary(ctx, st)
}

func (m *Machine) sendSummary(ctx context.Context, st *State) error {
	p, err := m.products.GetByID(ctx, st.SelectedProductID)
	if err != nil {
		return err
	}
	m.send(ctx, st.Phone, m.render(st.VendorID, template.NameOrderSummary, map[string]any{
		"product": productCtx(p),
		"order": map[string]any{
			"quantity":     st.Quantity,
			"total_amount": p.Price * int64(st.Quantity),
		},
	}))
	return nil
}

func (m *Machine) handleAwaitingPayment(ctx context.Context, st *State, c *client.Client, text, lower string) error {
	o, err := m.orders.GetOrder(ctx, st.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			m.resetDialogue(st)
			return m.handleBrowsing(ctx, st, c, text, lower)
		}
		return err
	}

	if o.Status != order.StatusReserved {
		// the paid/expired notification raced this message; start over
		m.resetDialogue(st)
		return m.handleBrowsing(ctx, st, c, text, lower)
	}

	if cancelWords[lower] {
		if _, err := m.orders.CancelOrder(ctx, o.ID); err != nil {
			return err
		}
		m.resetDialogue(st)
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameOrderCancelled, nil))
		return nil
	}

	p, err := m.products.GetByID(ctx, o.ProductID)
	if err != nil {
		return err
	}
	m.send(ctx, st.Phone, m.render(st.VendorID, template.NamePaymentLink, map[string]any{
		"product": productCtx(p),
		"payment": map[string]any{"url": m.paymentURL(ctx, o)},
		"order":   map[string]any{"expires_at": o.ExpiresAt},
		"client":  clientCtx(c),
	}))
	return nil
}

func (m *Machine) confirmOrder(ctx context.Context, st *State, c *client.Client) error {
	p, err := m.products.GetByID(ctx, st.SelectedProductID)
	if err != nil {
		return err
	}

	policy := m.trust.Evaluate(c, time.Now().UTC()).Policy

	o, err := m.orders.CreateOrder(ctx, order.CreateInput{
		VendorID:    st.VendorID,
		Product:     p,
		Quantity:    st.Quantity,
		ClientPhone: st.Phone,
		ClientID:    c.ID,
		Window:      policy.ReservationWindow(),
	})
	if err != nil {
		if errors.Is(err, order.ErrInsufficientStock) {
			// another buyer won the race between summary and confirm
			m.resetDialogue(st)
			m.send(ctx, st.Phone, m.render(st.VendorID, template.NameStockChanged, map[string]any{
				"product": productCtx(p),
			}))
			return nil
		}
		return err
	}

	st.Step = StepAwaitingPayment
	st.OrderID = o.ID

	name := template.NamePaymentLink
	if policy.RequirePrePayment {
		name = template.NamePrePayment
	}
	m.send(ctx, st.Phone, m.render(st.VendorID, name, map[string]any{
		"product": productCtx(p),
		"payment": map[string]any{"url": m.paymentURL(ctx, o)},
		"order":   map[string]any{"expires_at": o.ExpiresAt, "quantity": o.Quantity, "total_amount": o.TotalAmount},
		"client":  clientCtx(c),
	}))

	if policy.AllowUpsell {
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameUpsell, map[string]any{
			"product": productCtx(p),
		}))
	}
	return nil
}

func (m *Machine) paymentURL(ctx context.Context, o *order.Order) string {
	res, err := m.provider.ProcessPayment(ctx, o.TotalAmount, map[string]string{
		"order_id":      o.ID,
		"payment_token": o.PaymentToken,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("conversation: payment link unavailable")
		return ""
	}
	return res.RedirectURL
}

func (m *Machine) sendStatus(ctx context.Context, st *State) {
	orders, err := m.orders.ListBuyerOrders(ctx, st.VendorID, st.Phone, 5)
	if err != nil {
		log.Error().Err(err).Str("phone", st.Phone).Msg("conversation: failed to list buyer orders")
		return
	}
	if len(orders) == 0 {
		m.send(ctx, st.Phone, m.render(st.VendorID, template.NameStatusEmpty, nil))
		return
	}

	lines := []string{m.render(st.VendorID, template.NameStatusHeader, nil).Text}
	for i := range orders {
		o := &orders[i]
		productName := o.ProductID
		if p, err := m.products.GetByID(ctx, o.ProductID); err == nil {
			productName = p.Name
		}
		lines = append(lines, m.render(st.VendorID, template.NameStatusLine, map[string]any{
			"order": map[string]any{
				"quantity":     o.Quantity,
				"product_name": productName,
				"total_amount": o.TotalAmount,
				"status":       string(o.Status),
			},
		}).Text)
	}
	m.send(ctx, st.Phone, template.Message{Text: strings.Join(lines, "\n")})
}

func (m *Machine) resetDialogue(st *State) {
	st.Step = StepBrowsing
	st.SelectedProductID = ""
	st.Quantity = 0
	st.OrderID = ""
}

// Lifecycle notifications. These arrive from timer callbacks and the payment
// handler, never from buyer input.

func (m *Machine) OrderReminder(ctx context.Context, o *order.Order) {
	p, err := m.products.GetByID(ctx, o.ProductID)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("conversation: reminder without product")
		return
	}
	m.send(ctx, o.ClientPhone, m.render(o.VendorID, template.NameReminder, map[string]any{
		"product": productCtx(p),
		"payment": map[string]any{"url": m.paymentURL(ctx, o)},
		"order":   map[string]any{"expires_at": o.ExpiresAt},
	}))
}

func (m *Machine) OrderPaid(ctx context.Context, o *order.Order) {
	ctxMap := map[string]any{
		"order": map[string]any{"quantity": o.Quantity, "total_amount": o.TotalAmount},
	}
	if p, err := m.products.GetByID(ctx, o.ProductID); err == nil {
		ctxMap["product"] = productCtx(p)
	}
	if c, err := m.clients.GetByPhone(ctx, o.VendorID, o.ClientPhone); err == nil {
		ctxMap["client"] = clientCtx(c)
	}
	m.send(ctx, o.ClientPhone, m.render(o.VendorID, template.NameOrderPaid, ctxMap))

	if err := m.states.Delete(ctx, o.VendorID, o.ClientPhone); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("conversation: failed to reset state after payment")
	}
}

func (m *Machine) OrderExpired(ctx context.Context, o *order.Order) {
	ctxMap := map[string]any{}
	if p, err := m.products.GetByID(ctx, o.ProductID); err == nil {
		ctxMap["product"] = productCtx(p)
	}
	m.send(ctx, o.ClientPhone, m.render(o.VendorID, template.NameOrderExpired, ctxMap))

	if err := m.states.Delete(ctx, o.VendorID, o.ClientPhone); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("conversation: failed to reset state after expiry")
	}
}
