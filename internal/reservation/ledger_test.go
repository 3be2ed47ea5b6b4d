package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	ctx    context.Context
	stock  *inventory.MemoryRepository
	repo   *MemoryRepository
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	stock := inventory.NewMemoryRepository()
	require.NoError(t, stock.SaveStore(ctx, inventory.Store{
		ID:        "S",
		SellerID:  "seller",
		Inventory: map[string]int{"P1": 10, "P2": 5},
	}))

	repo := NewMemoryRepository()
	return &fixture{
		ctx:    ctx,
		stock:  stock,
		repo:   repo,
		ledger: NewLedger(stock, repo, 10*time.Minute, zap.NewNop()),
	}
}

func (f *fixture) level(t *testing.T, productID string) int {
	t.Helper()
	level, err := f.stock.StockLevel(f.ctx, "S", productID)
	require.NoError(t, err)
	return level
}

// live soma as quantidades reservadas de um produto em todos os pedidos
func (f *fixture) live(productID string, orderIDs ...string) int {
	total := 0
	for _, id := range orderIDs {
		batch, _ := f.ledger.Live(f.ctx, id)
		for _, r := range batch {
			if r.ProductID == productID {
				total += r.Quantity
			}
		}
	}
	return total
}

func TestLedger_Reserve(t *testing.T) {
	// Arrange
	f := newFixture(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.ledger.now = func() time.Time { return now }

	// Act
	batch, err := f.ledger.Reserve(f.ctx, "order-1", "S", []inventory.Item{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 5},
	})

	// Assert
	require.NoError(t, err)
	require.Len(t, batch, 2)
	for _, r := range batch {
		assert.Equal(t, "order-1", r.OrderID)
		assert.Equal(t, now.Add(10*time.Minute), r.ExpiresAt)
	}
	assert.Equal(t, 8, f.level(t, "P1"))
	assert.Equal(t, 0, f.level(t, "P2"))
}

func TestLedger_Reserve_RollsBackPartialDecrements(t *testing.T) {
	// Arrange
	f := newFixture(t)

	// Act
	batch, err := f.ledger.Reserve(f.ctx, "order-1", "S", []inventory.Item{
		{ProductID: "P1", Quantity: 2},
		{ProductID: "P2", Quantity: 6},
	})

	// Assert
	assert.Nil(t, batch)
	assert.ErrorIs(t, err, ErrReservationFailed)
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.Equal(t, 10, f.level(t, "P1"), "P1 decrement must be rolled back")
	assert.Equal(t, 5, f.level(t, "P2"))
	live, _ := f.ledger.Live(f.ctx, "order-1")
	assert.Empty(t, live)
}

func TestLedger_Release_IsIdempotent(t *testing.T) {
	// Arrange
	f := newFixture(t)
	_, err := f.ledger.Reserve(f.ctx, "order-1", "S", []inventory.Item{{ProductID: "P1", Quantity: 3}})
	require.NoError(t, err)

	// Act
	first, err1 := f.ledger.Release(f.ctx, "order-1")
	second, err2 := f.ledger.Release(f.ctx, "order-1")
	unknown, err3 := f.ledger.Release(f.ctx, "order-404")

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)
	assert.Len(t, first, 1)
	assert.Empty(t, second)
	assert.Empty(t, unknown)
	assert.Equal(t, 10, f.level(t, "P1"))
}

func TestLedger_Confirm_KeepsStockConsumed(t *testing.T) {
	// Arrange
	f := newFixture(t)
	_, err := f.ledger.Reserve(f.ctx, "order-1", "S", []inventory.Item{{ProductID: "P1", Quantity: 4}})
	require.NoError(t, err)

	// Act
	_, err1 := f.ledger.Confirm(f.ctx, "order-1")
	_, err2 := f.ledger.Confirm(f.ctx, "order-1")
	released, err3 := f.ledger.Release(f.ctx, "order-1")

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)
	assert.Empty(t, released, "confirmed reservations cannot be released afterwards")
	assert.Equal(t, 6, f.level(t, "P1"))
}

func TestLedger_ConservationAcrossOperations(t *testing.T) {
	f := newFixture(t)
	orders := []string{"o1", "o2", "o3", "o4"}
	const initialP1 = 10

	check := func(step string) {
		assert.Equal(t, initialP1, f.level(t, "P1")+f.live("P1", orders...), step)
	}

	_, err := f.ledger.Reserve(f.ctx, "o1", "S", []inventory.Item{{ProductID: "P1", Quantity: 3}})
	require.NoError(t, err)
	check("after reserve o1")

	_, err = f.ledger.Reserve(f.ctx, "o2", "S", []inventory.Item{{ProductID: "P1", Quantity: 4}, {ProductID: "P2", Quantity: 1}})
	require.NoError(t, err)
	check("after reserve o2")

	_, err = f.ledger.Reserve(f.ctx, "o3", "S", []inventory.Item{{ProductID: "P1", Quantity: 9}})
	require.Error(t, err)
	check("after failed reserve o3")

	_, err = f.ledger.Release(f.ctx, "o1")
	require.NoError(t, err)
	check("after release o1")

	_, err = f.ledger.Reserve(f.ctx, "o4", "S", []inventory.Item{{ProductID: "P1", Quantity: 6}})
	require.NoError(t, err)
	check("after reserve o4")

	_, err = f.ledger.Release(f.ctx, "o2")
	require.NoError(t, err)
	_, err = f.ledger.Release(f.ctx, "o4")
	require.NoError(t, err)
	check("after releasing everything")
	assert.Equal(t, initialP1, f.level(t, "P1"))
}

func TestLedger_Reserve_DuplicateOrderIsRolledBack(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Reserve(f.ctx, "order-1", "S", []inventory.Item{{ProductID: "P1", Quantity: 1}})
	require.NoError(t, err)

	_, err = f.ledger.Reserve(f.ctx, "order-1", "S", []inventory.Item{{ProductID: "P1", Quantity: 2}})

	assert.ErrorIs(t, err, ErrAlreadyReserved)
	assert.Equal(t, 9, f.level(t, "P1"))
}

// MockStock simula um estoque cuja restauração falha
type MockStock struct {
	mock.Mock
}

func (m *MockStock) DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error) {
	args := m.Called(ctx, storeID, productID, qty)
	return args.Bool(0), args.Error(1)
}

func (m *MockStock) RestoreStock(ctx context.Context, storeID, productID string, qty int) error {
	args := m.Called(ctx, storeID, productID, qty)
	return args.Error(0)
}

func TestLedger_Release_KeepsBookkeepingWhenRestoreFails(t *testing.T) {
	// Arrange
	ctx := context.Background()
	stock := new(MockStock)
	repo := NewMemoryRepository()
	ledger := NewLedger(stock, repo, time.Minute, zap.NewNop())

	stock.On("DecrementStock", ctx, "S", "P1", 2).Return(true, nil)
	stock.On("RestoreStock", ctx, "S", "P1", 2).Return(errors.New("store unreachable")).Once()
	stock.On("RestoreStock", ctx, "S", "P1", 2).Return(nil).Once()

	_, err := ledger.Reserve(ctx, "order-1", "S", []inventory.Item{{ProductID: "P1", Quantity: 2}})
	require.NoError(t, err)

	// Act
	_, firstErr := ledger.Release(ctx, "order-1")
	stillLive, _ := ledger.Live(ctx, "order-1")
	released, secondErr := ledger.Release(ctx, "order-1")

	// Assert
	assert.Error(t, firstErr)
	assert.Len(t, stillLive, 1, "failed restore must stay in the ledger for a retry")
	assert.NoError(t, secondErr)
	assert.Len(t, released, 1)
	stock.AssertExpectations(t)
}

func TestDeadline(t *testing.T) {
	early := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	late := early.Add(time.Minute)

	assert.True(t, Deadline(nil).IsZero())
	assert.Equal(t, early, Deadline([]Reservation{{ExpiresAt: late}, {ExpiresAt: early}}))
}

// MockStockRepository simula um repositório que reserva e devolve na mesma transação
type MockStockRepository struct {
	*MemoryRepository
	mock.Mock
}

func (m *MockStockRepository) ReserveStock(ctx context.Context, reservations []Reservation) (string, error) {
	args := m.Called(ctx, reservations)
	return args.String(0), args.Error(1)
}

func (m *MockStockRepository) ReleaseStock(ctx context.Context, orderID string) ([]Reservation, error) {
	args := m.Called(ctx, orderID)
	taken, _ := args.Get(0).([]Reservation)
	return taken, args.Error(1)
}

func TestLedger_TransactionalRepositoryOwnsStockMovement(t *testing.T) {
	// Arrange
	ctx := context.Background()
	stock := new(MockStock)
	repo := &MockStockRepository{MemoryRepository: NewMemoryRepository()}
	ledger := NewLedger(stock, repo, time.Minute, zap.NewNop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	want := []Reservation{
		{OrderID: "order-1", StoreID: "S", ProductID: "P1", Quantity: 3, ExpiresAt: now.Add(time.Minute)},
		{OrderID: "order-1", StoreID: "S", ProductID: "P2", Quantity: 1, ExpiresAt: now.Add(time.Minute)},
	}
	repo.On("ReserveStock", ctx, want).Return("", nil).Once()
	repo.On("ReserveStock", ctx, mock.Anything).Return("P2", nil).Once()
	repo.On("ReleaseStock", ctx, "order-1").Return(want, nil).Once()

	// Act
	reserved, reserveErr := ledger.Reserve(ctx, "order-1", "S", []inventory.Item{
		{ProductID: "P1", Quantity: 1},
		{ProductID: "P2", Quantity: 1},
		{ProductID: "P1", Quantity: 2},
	})
	_, shortErr := ledger.Reserve(ctx, "order-2", "S", []inventory.Item{{ProductID: "P2", Quantity: 9}})
	released, releaseErr := ledger.Release(ctx, "order-1")

	// Assert
	require.NoError(t, reserveErr)
	assert.Equal(t, want, reserved)
	assert.ErrorIs(t, shortErr, ErrReservationFailed)
	assert.ErrorIs(t, shortErr, inventory.ErrInsufficientStock)
	require.NoError(t, releaseErr)
	assert.Equal(t, want, released)
	repo.AssertExpectations(t)
	stock.AssertNotCalled(t, "DecrementStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	stock.AssertNotCalled(t, "RestoreStock", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
