package conversation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsell/streamsell/internal/catalog"
	"github.com/streamsell/streamsell/internal/chat"
	"github.com/streamsell/streamsell/internal/client"
	"github.com/streamsell/streamsell/internal/event"
	"github.com/streamsell/streamsell/internal/order"
	"github.com/streamsell/streamsell/internal/payment"
	"github.com/streamsell/streamsell/internal/sched"
	"github.com/streamsell/streamsell/internal/template"
	"github.com/streamsell/streamsell/internal/trust"
)

type capturingTransport struct {
	mu       sync.Mutex
	messages []string
	buttons  [][]chat.Button
}

func (t *capturingTransport) SendText(_ context.Context, _ string, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, text)
	t.buttons = append(t.buttons, nil)
	return nil
}

func (t *capturingTransport) SendButtons(_ context.Context, _ string, text string, buttons []chat.Button) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, text)
	t.buttons = append(t.buttons, buttons)
	return nil
}

func (t *capturingTransport) last() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return ""
	}
	return t.messages[len(t.messages)-1]
}

func (t *capturingTransport) lastButtons() []chat.Button {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buttons) == 0 {
		return nil
	}
	return t.buttons[len(t.buttons)-1]
}

func (t *capturingTransport) all() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.messages, "\n---\n")
}

type machineEnv struct {
	machine   *Machine
	transport *capturingTransport
	products  *catalog.MemoryRepository
	orders    order.Repository
	svc       *order.Service
	states    *MemoryStore
	product   *catalog.Product
}

func newMachineEnv(t *testing.T, stock int) *machineEnv {
	t.Helper()

	env := &machineEnv{
		transport: &capturingTransport{},
		products:  catalog.NewMemoryRepository(),
		orders:    order.NewMemoryRepository(),
		states:    NewMemoryStore(2 * time.Hour),
	}

	env.product = &catalog.Product{
		ID:       "prod-1",
		VendorID: "vendor-1",
		Keyword:  "ROBE1",
		Name:     "Robe wax",
		Price:    15000,
		Stock:    stock,
		Active:   true,
	}
	require.NoError(t, env.products.Create(context.Background(), env.product))

	clients := client.NewMemoryRepository()
	scheduler := sched.New()
	t.Cleanup(scheduler.Stop)

	env.svc = order.NewService(env.orders, env.products, clients, trust.NewEngine(),
		scheduler, event.Noop{}, order.Config{ReminderFraction: 0.5, ReminderMinimum: 30 * time.Second})

	env.machine = NewMachine(env.states, env.products, clients, trust.NewEngine(), env.svc,
		payment.LinkProvider{BaseURL: "https://pay.example"},
		template.NewRenderer("fr", "FCFA"), env.transport, template.SegmentDefault)
	env.svc.SetEvents(env.machine)
	return env
}

func (env *machineEnv) text(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, env.machine.HandleInbound(context.Background(), chat.Inbound{
		VendorID:        "vendor-1",
		FromPhone:       "+33612345678",
		FromDisplayName: "Fatou",
		Kind:            chat.KindText,
		Text:            text,
	}))
}

func (env *machineEnv) button(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, env.machine.HandleInbound(context.Background(), chat.Inbound{
		VendorID:  "vendor-1",
		FromPhone: "+33612345678",
		Kind:      chat.KindButton,
		ButtonID:  id,
	}))
}

func (env *machineEnv) state(t *testing.T) *State {
	t.Helper()
	st, err := env.states.Get(context.Background(), "vendor-1", "+33612345678")
	require.NoError(t, err)
	return st
}

func TestMachine_ConversationEndToEnd(t *testing.T) {
	env := newMachineEnv(t, 5)

	env.text(t, "bonjour")
	assert.Contains(t, env.transport.last(), "Bienvenue")
	assert.Equal(t, StepBrowsing, env.state(t).Step)

	env.text(t, "ROBE1")
	assert.Contains(t, env.transport.last(), "Combien")
	assert.Contains(t, env.transport.last(), "Robe wax")
	assert.Equal(t, StepAwaitingQuantity, env.state(t).Step)

	env.text(t, "2")
	assert.Contains(t, env.transport.last(), "2 ×")
	assert.Contains(t, env.transport.last(), "FCFA")
	require.Len(t, env.transport.lastButtons(), 2)
	assert.Equal(t, StepConfirmingOrder, env.state(t).Step)

	env.button(t, template.ButtonConfirm)
	assert.Contains(t, env.transport.all(), "https://pay.example/")

	st := env.state(t)
	assert.Equal(t, StepAwaitingPayment, st.Step)
	require.NotEmpty(t, st.OrderID)

	o, err := env.svc.GetOrder(context.Background(), st.OrderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReserved, o.Status)
	assert.Equal(t, int64(30000), o.TotalAmount)

	p, err := env.products.GetByID(context.Background(), env.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Available())
}

func TestMachine_KeywordMatchesCaseInsensitively(t *testing.T) {
	env := newMachineEnv(t, 5)

	env.text(t, "robe1")
	assert.Contains(t, env.transport.last(), "Combien")
}

func TestMachine_OutOfStock(t *testing.T) {
	env := newMachineEnv(t, 0)

	env.text(t, "ROBE1")
	assert.Contains(t, env.transport.last(), "épuisé")
	assert.Equal(t, StepBrowsing, env.state(t).Step)
}

func TestMachine_InvalidQuantityReprompts(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")

	env.text(t, "beaucoup")
	assert.Contains(t, env.transport.last(), "Quantité invalide")
	assert.Equal(t, StepAwaitingQuantity, env.state(t).Step)

	env.text(t, "12")
	assert.Contains(t, env.transport.last(), "Quantité invalide")

	env.text(t, "0")
	assert.Contains(t, env.transport.last(), "Quantité invalide")

	env.text(t, "3")
	assert.Equal(t, StepConfirmingOrder, env.state(t).Step)
}

func TestMachine_UnknownKeyword(t *testing.T) {
	env := newMachineEnv(t, 5)

	env.text(t, "PANTALON9")
	assert.Contains(t, env.transport.last(), "non reconnu")
	assert.Equal(t, StepIdle, env.state(t).Step)
}

func TestMachine_HelpAndStatusDoNotChangeState(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")

	env.text(t, "aide")
	assert.Contains(t, env.transport.last(), "Commandes disponibles")
	assert.Equal(t, StepAwaitingQuantity, env.state(t).Step)

	env.text(t, "statut")
	assert.Contains(t, env.transport.last(), "Aucune commande")
	assert.Equal(t, StepAwaitingQuantity, env.state(t).Step)
}

func TestMachine_StatusListsRecentOrders(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")
	env.text(t, "1")
	env.button(t, template.ButtonConfirm)

	env.text(t, "statut")
	assert.Contains(t, env.transport.last(), "Robe wax")
	assert.Contains(t, env.transport.last(), "reserved")
}

func TestMachine_CancelButtonResetsDialogue(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")
	env.text(t, "2")

	env.button(t, template.ButtonCancel)
	assert.Contains(t, env.transport.last(), "annulée")

	st := env.state(t)
	assert.Equal(t, StepBrowsing, st.Step)
	assert.Empty(t, st.SelectedProductID)

	// no stock was ever held before confirm
	p, err := env.products.GetByID(context.Background(), env.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Available())
}

func TestMachine_StockChangedBetweenSummaryAndConfirm(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")
	env.text(t, "4")

	// another buyer takes the stock while this one hesitates
	granted, err := env.products.ReserveStock(context.Background(), env.product.ID, 3)
	require.NoError(t, err)
	require.True(t, granted)

	env.button(t, template.ButtonConfirm)
	assert.Contains(t, env.transport.last(), "le stock a changé")
	assert.Equal(t, StepBrowsing, env.state(t).Step)

	orders, err := env.svc.ListBuyerOrders(context.Background(), "vendor-1", "+33612345678", 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMachine_PaidNotificationResetsState(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")
	env.text(t, "2")
	env.button(t, template.ButtonConfirm)

	st := env.state(t)
	require.Equal(t, StepAwaitingPayment, st.Step)

	_, err := env.svc.FinalizeAsPaid(context.Background(), st.OrderID, "pay_1")
	require.NoError(t, err)

	assert.Contains(t, env.transport.last(), "Paiement reçu")
	assert.Nil(t, env.state(t))
}

func TestMachine_CancelWhileAwaitingPayment(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.text(t, "ROBE1")
	env.text(t, "2")
	env.button(t, template.ButtonConfirm)
	orderID := env.state(t).OrderID

	env.text(t, "annuler")
	assert.Contains(t, env.transport.last(), "annulée")

	o, err := env.svc.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)

	p, err := env.products.GetByID(context.Background(), env.product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Available())
}

func TestMachine_LiveSellerSegmentTone(t *testing.T) {
	env := newMachineEnv(t, 5)
	env.machine.SetVendorSegment("vendor-1", template.SegmentLiveSeller)

	env.text(t, "bonjour")
	assert.Contains(t, env.transport.last(), "live")
}

func TestMemoryStore_TTLEviction(t *testing.T) {
	store := NewMemoryStore(30 * time.Millisecond)
	require.NoError(t, store.Put(context.Background(), &State{VendorID: "v", Phone: "p", Step: StepBrowsing}))

	st, err := store.Get(context.Background(), "v", "p")
	require.NoError(t, err)
	require.NotNil(t, st)

	time.Sleep(60 * time.Millisecond)
	st, err = store.Get(context.Background(), "v", "p")
	require.NoError(t, err)
	assert.Nil(t, st)
}
