package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/events"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
	"go.uber.org/zap"
)

// Catalog é o que o registro consulta no estoque para montar um pedido
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*inventory.Product, error)
	FindEligibleStore(ctx context.Context, location inventory.Location, items []inventory.Item) (*inventory.Store, error)
}

// Reserver reserva e libera o estoque de um pedido
type Reserver interface {
	Reserve(ctx context.Context, orderID, storeID string, items []inventory.Item) ([]reservation.Reservation, error)
	Release(ctx context.Context, orderID string) ([]reservation.Reservation, error)
}

// ExpiryScheduler agenda a verificação de TTL de um pedido
type ExpiryScheduler interface {
	Schedule(ctx context.Context, orderID string, at time.Time) error
}

// Placement é o resultado de um pedido criado com sucesso
type Placement struct {
	Order        *Order
	Store        inventory.Store
	Reservations []reservation.Reservation
}

// Registry guarda os pedidos e suas duas dimensões de status
type Registry struct {
	repository Repository
	catalog    Catalog
	reserver   Reserver
	scheduler  ExpiryScheduler
	publisher  events.Publisher
	logger     *zap.Logger

	newID func() string
	now   func() time.Time
}

// NewRegistry cria uma nova instância de Registry
func NewRegistry(
	repository Repository,
	catalog Catalog,
	reserver Reserver,
	scheduler ExpiryScheduler,
	publisher events.Publisher,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		repository: repository,
		catalog:    catalog,
		reserver:   reserver,
		scheduler:  scheduler,
		publisher:  publisher,
		logger:     logger,
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder escolhe a loja, reserva o estoque, persiste o pedido e agenda a expiração.
// Em qualquer falha nenhum pedido ou reserva fica para trás.
func (r *Registry) CreateOrder(ctx context.Context, customerID string, location inventory.Location, items []inventory.Item) (*Placement, error) {
	items = inventory.MergeItems(items)
	if customerID == "" || len(items) == 0 {
		return nil, fmt.Errorf("%w: customer and at least one item are required", ErrInvalidOrder)
	}

	// 1. Preços do catálogo; produto desconhecido não pode ser atendido por nenhuma loja
	orderItems := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidOrder, item.ProductID)
		}
		product, err := r.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, inventory.ErrProductNotFound) {
				return nil, fmt.Errorf("%w: %w", ErrNoStoreAvailable, err)
			}
			return nil, fmt.Errorf("load product %s: %w", item.ProductID, err)
		}
		orderItems = append(orderItems, OrderItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: product.Price,
		})
	}

	// 2. Seleção da loja
	store, err := r.catalog.FindEligibleStore(ctx, location, items)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNoStoreAvailable
	}

	// 3. Reserva tudo ou nada
	orderID := r.newID()
	reserved, err := r.reserver.Reserve(ctx, orderID, store.ID, items)
	if err != nil {
		return nil, err
	}

	// 4. Persistência; se falhar, a reserva é desfeita
	order := NewOrder(orderID, customerID, store.ID, location, orderItems, r.now())
	if err := r.repository.Create(ctx, order); err != nil {
		r.releaseQuietly(ctx, orderID)
		return nil, fmt.Errorf("persist order %s: %w", orderID, err)
	}

	// 5. Agenda a expiração; sem ela a reserva ficaria presa, então o pedido é desfeito
	if err := r.scheduler.Schedule(ctx, orderID, reservation.Deadline(reserved)); err != nil {
		r.logger.Error("❌ [CREATE ORDER] Failed to schedule expiry, discarding order",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		if err := r.repository.Delete(ctx, orderID); err != nil {
			r.logger.Error("❌ [CREATE ORDER] Failed to delete order",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		r.releaseQuietly(ctx, orderID)
		return nil, fmt.Errorf("schedule expiry for order %s: %w", orderID, err)
	}

	r.logger.Info("✅ [CREATE ORDER] Order created",
		zap.String("order_id", orderID),
		zap.String("customer_id", customerID),
		zap.String("store_id", store.ID),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
	)

	return &Placement{Order: order.Clone(), Store: *store, Reservations: reserved}, nil
}

func (r *Registry) releaseQuietly(ctx context.Context, orderID string) {
	if _, err := r.reserver.Release(ctx, orderID); err != nil {
		r.logger.Error("❌ [CREATE ORDER] Failed to release reservations",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

// GetOrder devolve o pedido ou nil se ele não existir
func (r *Registry) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	order, err := r.repository.Get(ctx, orderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil
	}
	return order, err
}

// Transition aplica mutate dentro da seção atômica do pedido. Pré-condições devem ser
// checadas dentro de mutate; ErrInvalidTransition descarta a alteração.
// Mudanças de status geram ORDER_STATUS_UPDATED depois que o lock é liberado.
func (r *Registry) Transition(ctx context.Context, orderID string, mutate MutateFunc) (*Order, error) {
	var before Order
	updated, err := r.repository.Update(ctx, orderID, func(o *Order) error {
		before = *o
		if err := mutate(o); err != nil {
			return err
		}
		o.UpdatedAt = r.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if before.OrderStatus != updated.OrderStatus || before.FulfillmentStatus != updated.FulfillmentStatus {
		r.publish(ctx, statusUpdated(updated))
	}
	return updated, nil
}

// SetOrderStatus altera só o status comercial. Pedido desconhecido ou já terminal devolve false.
func (r *Registry) SetOrderStatus(ctx context.Context, orderID string, status OrderStatus) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown order status %q", ErrInvalidTransition, status)
	}
	return r.set(ctx, orderID, func(o *Order) error {
		o.OrderStatus = status
		return nil
	})
}

// SetFulfillmentStatus altera só o status de entrega, registrando o entregador quando informado.
// Um entregador já registrado nunca é trocado por outro.
func (r *Registry) SetFulfillmentStatus(ctx context.Context, orderID string, status FulfillmentStatus, partnerID string) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown fulfillment status %q", ErrInvalidTransition, status)
	}
	return r.set(ctx, orderID, func(o *Order) error {
		if partnerID != "" && o.DeliveryPartnerID != "" && o.DeliveryPartnerID != partnerID {
			return ErrInvalidTransition
		}
		o.FulfillmentStatus = status
		if partnerID != "" {
			o.DeliveryPartnerID = partnerID
		}
		return nil
	})
}

func (r *Registry) set(ctx context.Context, orderID string, apply MutateFunc) (bool, error) {
	_, err := r.Transition(ctx, orderID, func(o *Order) error {
		if o.IsTerminal() {
			return ErrInvalidTransition
		}
		return apply(o)
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrInvalidTransition):
		return false, nil
	default:
		return false, err
	}
}

func (r *Registry) publish(ctx context.Context, evt events.Event) {
	if err := r.publisher.Publish(ctx, evt); err != nil {
		r.logger.Warn("⚠️ [EVENT] Failed to publish",
			zap.String("event", string(evt.Type)),
			zap.String("order_id", evt.OrderID),
			zap.Error(err),
		)
	}
}

func statusUpdated(order *Order) events.Event {
	evt := events.New(events.OrderStatusUpdated, order.ID)
	evt.OrderStatus = string(order.OrderStatus)
	evt.FulfillmentStatus = string(order.FulfillmentStatus)
	evt.PartnerID = order.DeliveryPartnerID
	evt.StoreID = order.StoreID
	return evt
}
