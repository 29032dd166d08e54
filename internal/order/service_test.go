package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamsell/streamsell/internal/catalog"
	"github.com/streamsell/streamsell/internal/client"
	"github.com/streamsell/streamsell/internal/event"
	"github.com/streamsell/streamsell/internal/sched"
	"github.com/streamsell/streamsell/internal/trust"
)

type recordingEvents struct {
	mu        sync.Mutex
	reminders []string
	paid      []string
	expired   []string
}

func (r *recordingEvents) OrderReminder(_ context.Context, o *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reminders = append(r.reminders, o.ID)
}

func (r *recordingEvents) OrderPaid(_ context.Context, o *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paid = append(r.paid, o.ID)
}

func (r *recordingEvents) OrderExpired(_ context.Context, o *Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, o.ID)
}

func (r *recordingEvents) counts() (reminders, paid, expired int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reminders), len(r.paid), len(r.expired)
}

type failingCreateRepository struct {
	Repository
}

func (r *failingCreateRepository) Create(context.Context, *Order) error {
	return errors.New("storage unavailable")
}

type testEnv struct {
	svc      *Service
	orders   Repository
	products *catalog.MemoryRepository
	clients  *client.MemoryRepository
	sched    *sched.Scheduler
	events   *recordingEvents
	product  *catalog.Product
}

func newTestEnv(t *testing.T, stock int) *testEnv {
	t.Helper()

	env := &testEnv{
		orders:   NewMemoryRepository(),
		products: catalog.NewMemoryRepository(),
		clients:  client.NewMemoryRepository(),
		sched:    sched.New(),
		events:   &recordingEvents{},
	}
	t.Cleanup(env.sched.Stop)

	env.product = &catalog.Product{
		ID:       "prod-1",
		VendorID: "vendor-1",
		Keyword:  "ROBE1",
		Price:    15000,
		Stock:    stock,
		Active:   true,
	}
	require.NoError(t, env.products.Create(context.Background(), env.product))

	env.svc = NewService(env.orders, env.products, env.clients, trust.NewEngine(),
		env.sched, event.Noop{}, Config{ReminderFraction: 0.5, ReminderMinimum: 30 * time.Second})
	env.svc.SetEvents(env.events)
	return env
}

func (env *testEnv) create(t *testing.T, qty int, window time.Duration) *Order {
	t.Helper()
	o, err := env.svc.CreateOrder(context.Background(), CreateInput{
		VendorID:    "vendor-1",
		Product:     env.product,
		Quantity:    qty,
		ClientPhone: "+33612345678",
		Window:      window,
	})
	require.NoError(t, err)
	return o
}

func (env *testEnv) productState(t *testing.T) (stock, reserved int) {
	t.Helper()
	p, err := env.products.GetByID(context.Background(), env.product.ID)
	require.NoError(t, err)
	return p.Stock, p.ReservedStock
}

func TestService_CreateOrder(t *testing.T) {
	env := newTestEnv(t, 5)

	o := env.create(t, 2, 10*time.Minute)

	assert.Equal(t, StatusReserved, o.Status)
	assert.Equal(t, int64(30000), o.TotalAmount)
	assert.NotEmpty(t, o.PaymentToken)
	assert.WithinDuration(t, o.ReservedAt.Add(10*time.Minute), o.ExpiresAt, time.Second)

	stock, reserved := env.productState(t)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 2, reserved)

	assert.True(t, env.sched.Pending(o.ID, sched.KindExpiration))
	assert.True(t, env.sched.Pending(o.ID, sched.KindReminder))
}

func TestService_CreateOrder_InsufficientStock(t *testing.T) {
	env := newTestEnv(t, 1)

	_, err := env.svc.CreateOrder(context.Background(), CreateInput{
		VendorID:    "vendor-1",
		Product:     env.product,
		Quantity:    3,
		ClientPhone: "+33612345678",
		Window:      10 * time.Minute,
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	_, reserved := env.productState(t)
	assert.Equal(t, 0, reserved)
}

func TestService_CreateOrder_RollbackOnPersistFailure(t *testing.T) {
	env := newTestEnv(t, 5)
	env.svc.orders = &failingCreateRepository{Repository: env.orders}

	_, err := env.svc.CreateOrder(context.Background(), CreateInput{
		VendorID:    "vendor-1",
		Product:     env.product,
		Quantity:    2,
		ClientPhone: "+33612345678",
		Window:      10 * time.Minute,
	})
	require.Error(t, err)

	// the reservation taken before the failed insert must be handed back
	stock, reserved := env.productState(t)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, reserved)
}

func TestService_FinalizeAsPaid_Idempotent(t *testing.T) {
	env := newTestEnv(t, 5)
	o := env.create(t, 2, 10*time.Minute)

	first, err := env.svc.FinalizeAsPaid(context.Background(), o.ID, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, first.Status)
	require.NotNil(t, first.PaidAt)

	second, err := env.svc.FinalizeAsPaid(context.Background(), o.ID, "pay_123")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, second.Status)

	// stock confirmed exactly once despite the duplicate callback
	stock, reserved := env.productState(t)
	assert.Equal(t, 3, stock)
	assert.Equal(t, 0, reserved)

	c, err := env.clients.GetByPhone(context.Background(), "vendor-1", "+33612345678")
	require.NoError(t, err)
	assert.Equal(t, 1, c.SuccessfulPayments)
	assert.Equal(t, int64(30000), c.TotalSpent)
}

func TestService_FinalizeAsPaid_AfterExpiry(t *testing.T) {
	env := newTestEnv(t, 5)
	o := env.create(t, 2, 50*time.Millisecond)

	// let the expiry timer fire
	time.Sleep(150 * time.Millisecond)

	_, err := env.svc.FinalizeAsPaid(context.Background(), o.ID, "pay_123")
	assert.ErrorIs(t, err, ErrAlreadyFinal)

	stock, reserved := env.productState(t)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, reserved)
}

func TestService_PayExpireRace_ExactlyOneOutcome(t *testing.T) {
	env := newTestEnv(t, 5)
	o := env.create(t, 2, 40*time.Millisecond)

	// past the window both transitions are legal; fire them concurrently
	time.Sleep(60 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.FinalizeAsPaid(context.Background(), o.ID, "pay_123")
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.svc.ExpireOrder(context.Background(), o.ID)
		}()
	}
	wg.Wait()

	final, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.True(t, final.Status.Terminal())

	stock, reserved := env.productState(t)
	assert.Equal(t, 0, reserved)
	switch final.Status {
	case StatusPaid:
		assert.Equal(t, 3, stock)
	case StatusExpired:
		assert.Equal(t, 5, stock)
	default:
		t.Fatalf("unexpected terminal status %s", final.Status)
	}
}

func TestService_ExpiryEndToEnd(t *testing.T) {
	env := newTestEnv(t, 5)

	// 1s window: reminder would land at 500ms, below the 30s minimum, so
	// only the expiry must fire
	o := env.create(t, 1, time.Second)
	assert.False(t, env.sched.Pending(o.ID, sched.KindReminder))

	assert.Eventually(t, func() bool {
		current, err := env.orders.GetByID(context.Background(), o.ID)
		return err == nil && current.Status == StatusExpired
	}, 3*time.Second, 50*time.Millisecond)

	stock, reserved := env.productState(t)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, reserved)

	reminders, _, expired := env.events.counts()
	assert.Equal(t, 0, reminders)
	assert.Equal(t, 1, expired)

	c, err := env.clients.GetByPhone(context.Background(), "vendor-1", "+33612345678")
	require.NoError(t, err)
	assert.Equal(t, 1, c.ExpiredReservations)
}

func TestService_ReminderFiresBeforeExpiry(t *testing.T) {
	env := newTestEnv(t, 5)
	env.svc.cfg.ReminderMinimum = time.Millisecond

	o := env.create(t, 1, 200*time.Millisecond)

	assert.Eventually(t, func() bool {
		reminders, _, _ := env.events.counts()
		return reminders == 1
	}, time.Second, 10*time.Millisecond)

	current, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReserved, current.Status)
}

func TestService_CancelOrder(t *testing.T) {
	env := newTestEnv(t, 5)
	o := env.create(t, 2, 10*time.Minute)

	cancelled, err := env.svc.CancelOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	stock, reserved := env.productState(t)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, reserved)
	assert.False(t, env.sched.Pending(o.ID, sched.KindExpiration))

	// cancelling again is a no-op
	again, err := env.svc.CancelOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, again.Status)
}

func TestService_SweepExpired(t *testing.T) {
	env := newTestEnv(t, 5)
	o := env.create(t, 2, 10*time.Minute)

	// simulate a lost timer: cancel the scheduled expiry and backdate the window
	env.sched.CancelAll(o.ID)
	stored, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	mem := env.orders.(*MemoryRepository)
	mem.mu.Lock()
	mem.orders[o.ID].ExpiresAt = stored.ExpiresAt
	mem.mu.Unlock()

	require.NoError(t, env.svc.SweepExpired(context.Background()))

	current, err := env.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, current.Status)

	stock, reserved := env.productState(t)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, reserved)
}

func TestService_VendorStats(t *testing.T) {
	env := newTestEnv(t, 10)

	paid := env.create(t, 2, 10*time.Minute)
	_, err := env.svc.FinalizeAsPaid(context.Background(), paid.ID, "pay_1")
	require.NoError(t, err)

	reserved := env.create(t, 1, 10*time.Minute)
	_, err = env.svc.CancelOrder(context.Background(), reserved.ID)
	require.NoError(t, err)

	env.create(t, 1, 10*time.Minute)

	stats, err := env.svc.VendorStats(context.Background(), "vendor-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalOrders)
	assert.Equal(t, 1, stats.CountsByStatus[StatusPaid])
	assert.Equal(t, 1, stats.CountsByStatus[StatusCancelled])
	assert.Equal(t, 1, stats.CountsByStatus[StatusReserved])
	assert.Equal(t, int64(30000), stats.Revenue)
}
