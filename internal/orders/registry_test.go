package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/events"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	err       error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[string]time.Time)}
}

func (s *fakeScheduler) Schedule(_ context.Context, orderID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.scheduled[orderID] = at
	return nil
}

type registryFixture struct {
	ctx       context.Context
	stock     *inventory.MemoryRepository
	ledger    *reservation.Ledger
	scheduler *fakeScheduler
	recorder  *events.Recorder
	registry  *Registry
}

func newRegistryFixture(t *testing.T, repository Repository) *registryFixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	stock := inventory.NewMemoryRepository()
	require.NoError(t, inventory.SeedDemo(ctx, stock))
	inv := inventory.NewService(stock, nil, logger)
	ledger := reservation.NewLedger(inv, reservation.NewMemoryRepository(), 10*time.Minute, logger)
	scheduler := newFakeScheduler()
	recorder := events.NewRecorder()

	return &registryFixture{
		ctx:       ctx,
		stock:     stock,
		ledger:    ledger,
		scheduler: scheduler,
		recorder:  recorder,
		registry:  NewRegistry(repository, inv, ledger, scheduler, recorder, logger),
	}
}

func (f *registryFixture) level(t *testing.T, storeID, productID string) int {
	t.Helper()
	level, err := f.stock.StockLevel(f.ctx, storeID, productID)
	require.NoError(t, err)
	return level
}

func TestRegistry_CreateOrder(t *testing.T) {
	// Arrange
	f := newRegistryFixture(t, NewMemoryRepository())

	// Act
	placement, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{Lat: 1, Lng: 2}, []inventory.Item{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 5},
	})

	// Assert
	require.NoError(t, err)
	order := placement.Order
	assert.Equal(t, "store-1", order.StoreID)
	assert.Equal(t, "user-seller-1", placement.Store.SellerID)
	assert.Equal(t, OrderStatusSellerPending, order.OrderStatus)
	assert.Equal(t, FulfillmentUnassigned, order.FulfillmentStatus)
	assert.Equal(t, "12.50", order.TotalAmount.StringFixed(2))
	assert.Len(t, placement.Reservations, 2)

	assert.Equal(t, 8, f.level(t, "store-1", "prod-1"))
	assert.Equal(t, 0, f.level(t, "store-1", "prod-2"))

	deadline, scheduled := f.scheduler.scheduled[order.ID]
	assert.True(t, scheduled)
	assert.Equal(t, reservation.Deadline(placement.Reservations), deadline)

	stored, err := f.registry.GetOrder(f.ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestRegistry_CreateOrder_NoStoreAvailable(t *testing.T) {
	// Arrange
	f := newRegistryFixture(t, NewMemoryRepository())

	// Act
	placement, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 6},
	})

	// Assert
	assert.Nil(t, placement)
	assert.ErrorIs(t, err, ErrNoStoreAvailable)
	assert.Equal(t, 10, f.level(t, "store-1", "prod-1"))
	assert.Equal(t, 5, f.level(t, "store-1", "prod-2"))
	assert.Empty(t, f.scheduler.scheduled)
}

func TestRegistry_CreateOrder_UnknownProduct(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryRepository())

	_, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{
		{ProductID: "prod-404", Quantity: 1},
	})

	assert.ErrorIs(t, err, ErrNoStoreAvailable)
	assert.ErrorIs(t, err, inventory.ErrProductNotFound)
}

func TestRegistry_CreateOrder_InvalidRequest(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryRepository())

	_, errNoItems := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, nil)
	_, errNoCustomer := f.registry.CreateOrder(f.ctx, "", inventory.Location{}, []inventory.Item{{ProductID: "prod-1", Quantity: 1}})
	_, errQuantity := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{{ProductID: "prod-1", Quantity: 0}})

	assert.ErrorIs(t, errNoItems, ErrInvalidOrder)
	assert.ErrorIs(t, errNoCustomer, ErrInvalidOrder)
	assert.ErrorIs(t, errQuantity, ErrInvalidOrder)
}

// MockRepository para simular falhas de persistência
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(ctx context.Context, order *Order) error {
	return m.Called(ctx, order).Error(0)
}

func (m *MockRepository) Get(ctx context.Context, orderID string) (*Order, error) {
	args := m.Called(ctx, orderID)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, orderID string, mutate MutateFunc) (*Order, error) {
	args := m.Called(ctx, orderID, mutate)
	order, _ := args.Get(0).(*Order)
	return order, args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

func TestRegistry_CreateOrder_PersistFailureReleasesStock(t *testing.T) {
	// Arrange
	repo := new(MockRepository)
	repo.On("Create", mock.Anything, mock.AnythingOfType("*orders.Order")).Return(errors.New("database unavailable"))
	f := newRegistryFixture(t, repo)
	f.registry.newID = func() string { return "order-fixed" }

	// Act
	_, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{
		{ProductID: "prod-3", Quantity: 4},
	})

	// Assert
	assert.Error(t, err)
	assert.Equal(t, 20, f.level(t, "store-1", "prod-3"))
	live, _ := f.ledger.Live(f.ctx, "order-fixed")
	assert.Empty(t, live)
	repo.AssertExpectations(t)
}

func TestRegistry_CreateOrder_ScheduleFailureLeavesNoOrder(t *testing.T) {
	// Arrange
	f := newRegistryFixture(t, NewMemoryRepository())
	f.scheduler.err = errors.New("redis unreachable")
	f.registry.newID = func() string { return "order-fixed" }

	// Act
	_, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{
		{ProductID: "prod-3", Quantity: 4},
	})

	// Assert
	assert.Error(t, err)
	assert.Equal(t, 20, f.level(t, "store-1", "prod-3"))
	order, err := f.registry.GetOrder(f.ctx, "order-fixed")
	require.NoError(t, err)
	assert.Nil(t, order, "a failed creation must not leave a persisted order")
	live, _ := f.ledger.Live(f.ctx, "order-fixed")
	assert.Empty(t, live)
	assert.Empty(t, f.recorder.OfType(events.OrderStatusUpdated))
}

func TestRegistry_Setters(t *testing.T) {
	// Arrange
	f := newRegistryFixture(t, NewMemoryRepository())
	placement, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{{ProductID: "prod-1", Quantity: 1}})
	require.NoError(t, err)
	id := placement.Order.ID

	// Act
	okStatus, err1 := f.registry.SetOrderStatus(f.ctx, id, OrderStatusActive)
	okFulfillment, err2 := f.registry.SetFulfillmentStatus(f.ctx, id, FulfillmentOnTheWay, "partner-1")
	okUnknown, err3 := f.registry.SetOrderStatus(f.ctx, "order-404", OrderStatusActive)
	okOtherPartner, err4 := f.registry.SetFulfillmentStatus(f.ctx, id, FulfillmentOnTheWay, "partner-2")
	okSamePartner, err5 := f.registry.SetFulfillmentStatus(f.ctx, id, FulfillmentPickedUp, "partner-1")

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)
	require.NoError(t, err4)
	require.NoError(t, err5)
	assert.True(t, okStatus)
	assert.True(t, okFulfillment)
	assert.False(t, okUnknown, "unknown order is a no-op")
	assert.False(t, okOtherPartner, "a recorded delivery partner is never replaced")
	assert.True(t, okSamePartner)

	order, _ := f.registry.GetOrder(f.ctx, id)
	assert.Equal(t, OrderStatusActive, order.OrderStatus)
	assert.Equal(t, FulfillmentPickedUp, order.FulfillmentStatus)
	assert.Equal(t, "partner-1", order.DeliveryPartnerID)
	assert.Len(t, f.recorder.OfType(events.OrderStatusUpdated), 3)
}

func TestRegistry_SettersRefuseTerminalOrders(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryRepository())
	placement, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{{ProductID: "prod-1", Quantity: 1}})
	require.NoError(t, err)
	id := placement.Order.ID

	ok, err := f.registry.SetOrderStatus(f.ctx, id, OrderStatusCancelled)
	require.NoError(t, err)
	require.True(t, ok)

	again, err := f.registry.SetOrderStatus(f.ctx, id, OrderStatusActive)
	require.NoError(t, err)
	assert.False(t, again)

	_, err = f.registry.SetFulfillmentStatus(f.ctx, id, FulfillmentStatus("TELEPORTED"), "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	order, _ := f.registry.GetOrder(f.ctx, id)
	assert.Equal(t, OrderStatusCancelled, order.OrderStatus)
}

func TestRegistry_TransitionAbortLeavesOrderUntouched(t *testing.T) {
	// Arrange
	f := newRegistryFixture(t, NewMemoryRepository())
	placement, err := f.registry.CreateOrder(f.ctx, "customer-1", inventory.Location{}, []inventory.Item{{ProductID: "prod-1", Quantity: 1}})
	require.NoError(t, err)
	id := placement.Order.ID

	// Act
	_, err = f.registry.Transition(f.ctx, id, func(o *Order) error {
		o.OrderStatus = OrderStatusActive
		return ErrInvalidTransition
	})

	// Assert
	assert.ErrorIs(t, err, ErrInvalidTransition)
	order, _ := f.registry.GetOrder(f.ctx, id)
	assert.Equal(t, OrderStatusSellerPending, order.OrderStatus)
	assert.Empty(t, f.recorder.OfType(events.OrderStatusUpdated))
}

func TestRegistry_GetOrder_Unknown(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryRepository())

	order, err := f.registry.GetOrder(f.ctx, "order-404")

	assert.NoError(t, err)
	assert.Nil(t, order)
}
