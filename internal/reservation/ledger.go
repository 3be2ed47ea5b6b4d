package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"go.uber.org/zap"
)

// Stock é o subconjunto do estoque que o ledger precisa
type Stock interface {
	DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error)
	RestoreStock(ctx context.Context, storeID, productID string, qty int) error
}

// Ledger associa decrementos de estoque a pedidos, com prazo de expiração
type Ledger struct {
	stock      Stock
	repository Repository
	ttl        time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewLedger cria uma nova instância de Ledger
func NewLedger(stock Stock, repository Repository, ttl time.Duration, logger *zap.Logger) *Ledger {
	return &Ledger{
		stock:      stock,
		repository: repository,
		ttl:        ttl,
		now:        time.Now,
		logger:     logger,
	}
}

// TTL devolve o prazo aplicado a cada lote de reservas
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Reserve decrementa cada item na loja; no primeiro item que falhar, desfaz os anteriores.
// Tudo ou nada por pedido.
func (l *Ledger) Reserve(ctx context.Context, orderID, storeID string, items []inventory.Item) ([]Reservation, error) {
	items = inventory.MergeItems(items)
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrReservationFailed)
	}

	expiresAt := l.now().Add(l.ttl)
	if stockRepository, ok := l.repository.(StockRepository); ok {
		return l.reserveAtomically(ctx, stockRepository, orderID, storeID, items, expiresAt)
	}
	reserved := make([]Reservation, 0, len(items))

	for _, item := range items {
		ok, err := l.stock.DecrementStock(ctx, storeID, item.ProductID, item.Quantity)
		if err != nil || !ok {
			l.rollback(ctx, orderID, reserved)
			if err != nil {
				return nil, fmt.Errorf("reserve %s for order %s: %w", item.ProductID, orderID, err)
			}
			l.logger.Info("↩️ [RESERVE] Rolled back partial reservation",
				zap.String("order_id", orderID),
				zap.String("store_id", storeID),
				zap.String("product_id", item.ProductID),
				zap.Int("rolled_back", len(reserved)),
			)
			return nil, fmt.Errorf("%w: %w: %s/%s", ErrReservationFailed, inventory.ErrInsufficientStock, storeID, item.ProductID)
		}

		reserved = append(reserved, Reservation{
			OrderID:   orderID,
			StoreID:   storeID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			ExpiresAt: expiresAt,
		})
	}

	if err := l.repository.Save(ctx, reserved); err != nil {
		l.rollback(ctx, orderID, reserved)
		return nil, fmt.Errorf("save reservations for order %s: %w", orderID, err)
	}

	l.logger.Info("✅ [RESERVE] Stock reserved",
		zap.String("order_id", orderID),
		zap.String("store_id", storeID),
		zap.Int("items", len(reserved)),
		zap.Time("expires_at", expiresAt),
	)
	return reserved, nil
}

// reserveAtomically delega decremento e gravação a uma única transação do repositório
func (l *Ledger) reserveAtomically(ctx context.Context, repository StockRepository, orderID, storeID string, items []inventory.Item, expiresAt time.Time) ([]Reservation, error) {
	reserved := make([]Reservation, 0, len(items))
	for _, item := range items {
		reserved = append(reserved, Reservation{
			OrderID:   orderID,
			StoreID:   storeID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			ExpiresAt: expiresAt,
		})
	}

	short, err := repository.ReserveStock(ctx, reserved)
	if err != nil {
		return nil, fmt.Errorf("reserve stock for order %s: %w", orderID, err)
	}
	if short != "" {
		l.logger.Info("↩️ [RESERVE] Reservation rolled back",
			zap.String("order_id", orderID),
			zap.String("store_id", storeID),
			zap.String("product_id", short),
		)
		return nil, fmt.Errorf("%w: %w: %s/%s", ErrReservationFailed, inventory.ErrInsufficientStock, storeID, short)
	}

	l.logger.Info("✅ [RESERVE] Stock reserved",
		zap.String("order_id", orderID),
		zap.String("store_id", storeID),
		zap.Int("items", len(reserved)),
		zap.Time("expires_at", expiresAt),
	)
	return reserved, nil
}

func (l *Ledger) rollback(ctx context.Context, orderID string, reserved []Reservation) {
	for _, res := range reserved {
		if err := l.stock.RestoreStock(ctx, res.StoreID, res.ProductID, res.Quantity); err != nil {
			l.logger.Error("❌ [RESERVE] Failed to roll back decrement",
				zap.String("order_id", orderID),
				zap.String("product_id", res.ProductID),
				zap.Error(err),
			)
		}
	}
}

// Release devolve ao estoque as reservas vivas do pedido e as remove.
// Chamar de novo, ou para um pedido sem reservas, não faz nada.
func (l *Ledger) Release(ctx context.Context, orderID string) ([]Reservation, error) {
	if stockRepository, ok := l.repository.(StockRepository); ok {
		taken, err := stockRepository.ReleaseStock(ctx, orderID)
		if err != nil {
			return nil, fmt.Errorf("release order %s: %w", orderID, err)
		}
		if len(taken) > 0 {
			l.logger.Info("↩️ [RELEASE] Reservations released",
				zap.String("order_id", orderID),
				zap.Int("items", len(taken)),
			)
		}
		return taken, nil
	}

	taken, err := l.repository.Take(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("release order %s: %w", orderID, err)
	}
	if len(taken) == 0 {
		return nil, nil
	}

	var (
		failed []Reservation
		errs   []error
	)
	for _, res := range taken {
		if err := l.stock.RestoreStock(ctx, res.StoreID, res.ProductID, res.Quantity); err != nil {
			failed = append(failed, res)
			errs = append(errs, err)
		}
	}

	if len(failed) > 0 {
		// devolve à contabilidade o que não voltou ao estoque, para um novo Release
		if err := l.repository.Save(ctx, failed); err != nil {
			errs = append(errs, err)
		}
		l.logger.Error("❌ [RELEASE] Failed to restore stock",
			zap.String("order_id", orderID),
			zap.Int("failed", len(failed)),
		)
		return nil, fmt.Errorf("release order %s: %w", orderID, errors.Join(errs...))
	}

	l.logger.Info("↩️ [RELEASE] Reservations released",
		zap.String("order_id", orderID),
		zap.Int("items", len(taken)),
	)
	return taken, nil
}

// Confirm remove a contabilidade das reservas sem devolver o estoque: as unidades foram vendidas.
// Idempotente.
func (l *Ledger) Confirm(ctx context.Context, orderID string) ([]Reservation, error) {
	taken, err := l.repository.Take(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("confirm order %s: %w", orderID, err)
	}
	if len(taken) > 0 {
		l.logger.Info("✅ [CONFIRM] Reservations confirmed",
			zap.String("order_id", orderID),
			zap.Int("items", len(taken)),
		)
	}
	return taken, nil
}

// Live devolve as reservas vivas do pedido
func (l *Ledger) Live(ctx context.Context, orderID string) ([]Reservation, error) {
	return l.repository.List(ctx, orderID)
}

// Deadlines devolve o prazo de expiração de cada pedido com reservas vivas
func (l *Ledger) Deadlines(ctx context.Context) (map[string]time.Time, error) {
	return l.repository.Deadlines(ctx)
}
