package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/events"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/orders"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	ErrNoStoreAvailable    = orders.ErrNoStoreAvailable
	ErrReservationConflict = errors.New("reservation conflict")
)

// retryDelay é o intervalo até a nova tentativa de devolver ou confirmar reservas
const retryDelay = 30 * time.Second

// Ledger é o que o coordenador usa das reservas ao encerrar um pedido
type Ledger interface {
	Release(ctx context.Context, orderID string) ([]reservation.Reservation, error)
	Confirm(ctx context.Context, orderID string) ([]reservation.Reservation, error)
}

// Expiry é o agendador de expirações. O coordenador cancela a expiração de pedidos que
// saíram de SELLER_PENDING e a reagenda como nova tentativa quando a contabilidade das
// reservas falha ao encerrar um pedido.
type Expiry interface {
	Schedule(ctx context.Context, orderID string, at time.Time) error
	Cancel(ctx context.Context, orderID string) error
}

// Coordinator é a máquina de estados do pedido: aceite do vendedor, disputa de entregadores e entrega.
// Toda pré-condição é revalidada dentro da seção atômica do pedido (Registry.Transition);
// eventos só são publicados depois que o lock é liberado.
type Coordinator struct {
	registry  *orders.Registry
	ledger    Ledger
	expiry    Expiry
	publisher events.Publisher
	tracer    trace.Tracer
	metrics   *Metrics
	logger    *zap.Logger
}

// NewCoordinator cria uma nova instância de Coordinator
func NewCoordinator(
	registry *orders.Registry,
	ledger Ledger,
	expiry Expiry,
	publisher events.Publisher,
	tracer trace.Tracer,
	metrics *Metrics,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		registry:  registry,
		ledger:    ledger,
		expiry:    expiry,
		publisher: publisher,
		tracer:    tracer,
		metrics:   metrics,
		logger:    logger,
	}
}

// PlaceOrder cria o pedido reservando o estoque. Falhas de negócio chegam como
// ErrNoStoreAvailable, ErrReservationConflict ou orders.ErrInvalidOrder, sem efeitos colaterais.
func (c *Coordinator) PlaceOrder(ctx context.Context, customerID string, location inventory.Location, items []inventory.Item) (*orders.Order, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.place_order")
	defer span.End()

	span.SetAttributes(
		attribute.String("customer_id", customerID),
		attribute.Int("items", len(items)),
	)

	placement, err := c.registry.CreateOrder(ctx, customerID, location, items)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, orders.ErrInvalidOrder):
			reason = "invalid"
		case errors.Is(err, orders.ErrNoStoreAvailable):
			reason = "no_store"
		case errors.Is(err, reservation.ErrReservationFailed):
			reason = "reservation_conflict"
			err = fmt.Errorf("%w: %w", ErrReservationConflict, err)
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, "order placement failed")
		}
		c.metrics.rejected(ctx, reason)
		c.logger.Info("❌ [PLACE ORDER] Rejected",
			zap.String("customer_id", customerID),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, err
	}

	order := placement.Order
	span.SetAttributes(
		attribute.String("order_id", order.ID),
		attribute.String("store_id", order.StoreID),
	)
	c.metrics.placed(ctx)

	created := events.New(events.OrderCreated, order.ID)
	created.CustomerID = order.CustomerID
	created.StoreID = order.StoreID
	created.OrderStatus = string(order.OrderStatus)
	created.FulfillmentStatus = string(order.FulfillmentStatus)
	created.TotalAmount = order.TotalAmount.StringFixed(2)

	selected := events.New(events.StoreSelected, order.ID)
	selected.StoreID = placement.Store.ID
	selected.SellerID = placement.Store.SellerID

	offered := events.New(events.OrderOfferedToSeller, order.ID)
	offered.StoreID = placement.Store.ID
	offered.SellerID = placement.Store.SellerID

	c.publish(ctx, created, selected, offered)

	c.logger.Info("🚀 [PLACE ORDER] Offered to seller",
		zap.String("order_id", order.ID),
		zap.String("seller_id", placement.Store.SellerID),
	)
	return order, nil
}

// SellerAccept ativa um pedido pendente e abre a disputa de entrega
func (c *Coordinator) SellerAccept(ctx context.Context, orderID string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.seller_accept")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := c.registry.Transition(ctx, orderID, func(o *orders.Order) error {
		if o.OrderStatus != orders.OrderStatusSellerPending {
			return orders.ErrInvalidTransition
		}
		o.OrderStatus = orders.OrderStatusActive
		o.FulfillmentStatus = orders.FulfillmentAssigningDelivery
		return nil
	})
	if ok, err := c.outcome(span, "SELLER ACCEPT", orderID, err); !ok {
		return false, err
	}

	c.cancelExpiry(ctx, orderID)

	accepted := events.New(events.SellerAccepted, orderID)
	accepted.StoreID = order.StoreID
	accepted.OrderStatus = string(order.OrderStatus)

	offer := events.New(events.DeliveryOffered, orderID)
	offer.StoreID = order.StoreID
	offer.FulfillmentStatus = string(order.FulfillmentStatus)

	c.publish(ctx, accepted, offer)

	c.logger.Info("✅ [SELLER ACCEPT] Delivery offered", zap.String("order_id", orderID))
	return true, nil
}

// SellerReject cancela um pedido ainda não encerrado e devolve o estoque
func (c *Coordinator) SellerReject(ctx context.Context, orderID string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.seller_reject")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := c.registry.Transition(ctx, orderID, func(o *orders.Order) error {
		if o.IsTerminal() {
			return orders.ErrInvalidTransition
		}
		o.OrderStatus = orders.OrderStatusCancelled
		return nil
	})
	if ok, err := c.outcome(span, "SELLER REJECT", orderID, err); !ok {
		return false, err
	}

	c.metrics.cancelled(ctx, "seller_rejected")
	// se a devolução falhar, release reagenda a expiração como nova tentativa
	if c.release(ctx, orderID) {
		c.cancelExpiry(ctx, orderID)
	}

	rejected := events.New(events.SellerRejected, orderID)
	rejected.StoreID = order.StoreID
	rejected.OrderStatus = string(order.OrderStatus)
	c.publish(ctx, rejected)

	c.logger.Info("↩️ [SELLER REJECT] Order cancelled", zap.String("order_id", orderID))
	return true, nil
}

// ExpireOrder é o alvo do agendador de TTL: cancela o pedido se ele ainda aguarda o vendedor.
// Pedidos desconhecidos ou já cancelados têm as reservas residuais devolvidas; pedidos
// concluídos têm as reservas residuais confirmadas.
func (c *Coordinator) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.expire_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	var observed orders.OrderStatus
	_, err := c.registry.Transition(ctx, orderID, func(o *orders.Order) error {
		observed = o.OrderStatus
		if o.OrderStatus != orders.OrderStatusSellerPending {
			return orders.ErrInvalidTransition
		}
		o.OrderStatus = orders.OrderStatusCancelled
		return nil
	})

	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		c.release(ctx, orderID)
		return false, nil
	case errors.Is(err, orders.ErrInvalidTransition):
		switch observed {
		case orders.OrderStatusCancelled:
			c.release(ctx, orderID)
		case orders.OrderStatusCompleted:
			c.confirm(ctx, orderID)
		}
		c.logger.Info("ℹ️ [EXPIRE] Order no longer pending",
			zap.String("order_id", orderID),
			zap.String("order_status", string(observed)),
		)
		return false, nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "expire failed")
		c.logger.Error("❌ [EXPIRE] Failed", zap.String("order_id", orderID), zap.Error(err))
		return false, err
	}

	c.metrics.cancelled(ctx, "expired")
	c.release(ctx, orderID)
	span.SetAttributes(attribute.Bool("result", true))

	c.logger.Info("⏳ [EXPIRE] Seller did not answer in time, order cancelled", zap.String("order_id", orderID))
	return true, nil
}

// ClaimDelivery é a operação disputada: só o primeiro entregador a encontrar o pedido em
// ASSIGNING_DELIVERY vence; todos os outros, concorrentes ou posteriores, recebem false.
func (c *Coordinator) ClaimDelivery(ctx context.Context, orderID, partnerID string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.claim_delivery")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("partner_id", partnerID),
	)

	if partnerID == "" {
		c.metrics.claim(ctx, false)
		return false, nil
	}

	order, err := c.registry.Transition(ctx, orderID, func(o *orders.Order) error {
		if o.IsTerminal() ||
			o.FulfillmentStatus != orders.FulfillmentAssigningDelivery ||
			o.DeliveryPartnerID != "" {
			return orders.ErrInvalidTransition
		}
		o.FulfillmentStatus = orders.FulfillmentOnTheWay
		o.DeliveryPartnerID = partnerID
		return nil
	})
	ok, err := c.outcome(span, "CLAIM DELIVERY", orderID, err)
	c.metrics.claim(ctx, ok)
	if !ok {
		return false, err
	}

	assigned := events.New(events.DeliveryAssigned, orderID)
	assigned.StoreID = order.StoreID
	assigned.PartnerID = partnerID
	assigned.FulfillmentStatus = string(order.FulfillmentStatus)
	c.publish(ctx, assigned)

	c.logger.Info("✅ [CLAIM DELIVERY] Partner assigned",
		zap.String("order_id", orderID),
		zap.String("partner_id", partnerID),
	)
	return true, nil
}

// ReportDeliveryProgress atualiza o andamento de uma entrega já atribuída.
// DELIVERED segue para ReportDelivered; estados anteriores à atribuição são recusados.
func (c *Coordinator) ReportDeliveryProgress(ctx context.Context, orderID string, status orders.FulfillmentStatus) (bool, error) {
	if status == orders.FulfillmentDelivered {
		return c.ReportDelivered(ctx, orderID)
	}

	ctx, span := c.tracer.Start(ctx, "fulfillment.report_progress")
	defer span.End()
	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("fulfillment_status", string(status)),
	)

	if status != orders.FulfillmentOnTheWay && status != orders.FulfillmentPickedUp {
		c.logger.Info("❌ [PROGRESS] Status not accepted as progress",
			zap.String("order_id", orderID),
			zap.String("fulfillment_status", string(status)),
		)
		return false, nil
	}

	_, err := c.registry.Transition(ctx, orderID, func(o *orders.Order) error {
		if !inDelivery(o) {
			return orders.ErrInvalidTransition
		}
		o.FulfillmentStatus = status
		return nil
	})
	return c.outcome(span, "PROGRESS", orderID, err)
}

// ReportDelivered conclui o pedido e confirma as reservas: o estoque fica consumido
func (c *Coordinator) ReportDelivered(ctx context.Context, orderID string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.report_delivered")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := c.registry.Transition(ctx, orderID, func(o *orders.Order) error {
		if !inDelivery(o) {
			return orders.ErrInvalidTransition
		}
		o.FulfillmentStatus = orders.FulfillmentDelivered
		o.OrderStatus = orders.OrderStatusCompleted
		return nil
	})
	if ok, err := c.outcome(span, "DELIVERED", orderID, err); !ok {
		return false, err
	}

	c.confirm(ctx, orderID)
	c.metrics.completed(ctx)

	completed := events.New(events.OrderCompleted, orderID)
	completed.StoreID = order.StoreID
	completed.PartnerID = order.DeliveryPartnerID
	completed.OrderStatus = string(order.OrderStatus)
	completed.FulfillmentStatus = string(order.FulfillmentStatus)
	completed.TotalAmount = order.TotalAmount.StringFixed(2)
	c.publish(ctx, completed)

	c.logger.Info("✅ [DELIVERED] Order completed", zap.String("order_id", orderID))
	return true, nil
}

// GetOrder devolve o pedido ou nil se ele não existir
func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	return c.registry.GetOrder(ctx, orderID)
}

// inDelivery indica um pedido ativo com entregador registrado e entrega em andamento
func inDelivery(o *orders.Order) bool {
	if o.IsTerminal() || o.DeliveryPartnerID == "" {
		return false
	}
	return o.FulfillmentStatus == orders.FulfillmentOnTheWay || o.FulfillmentStatus == orders.FulfillmentPickedUp
}

// outcome traduz o resultado de uma transição: pedido desconhecido ou fora da
// pré-condição viram false sem erro; só falha de armazenamento devolve erro.
func (c *Coordinator) outcome(span trace.Span, operation, orderID string, err error) (bool, error) {
	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("result", true))
		return true, nil
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, orders.ErrInvalidTransition):
		span.SetAttributes(attribute.Bool("result", false))
		c.logger.Info("❌ ["+operation+"] Rejected",
			zap.String("order_id", orderID),
			zap.String("reason", err.Error()),
		)
		return false, nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
		c.logger.Error("❌ ["+operation+"] Failed", zap.String("order_id", orderID), zap.Error(err))
		return false, err
	}
}

func (c *Coordinator) release(ctx context.Context, orderID string) bool {
	if _, err := c.ledger.Release(ctx, orderID); err != nil {
		c.logger.Error("❌ [RELEASE] Failed to release reservations",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		c.retryLater(ctx, orderID)
		return false
	}
	return true
}

// confirm consome as reservas de um pedido concluído; Confirm é idempotente
func (c *Coordinator) confirm(ctx context.Context, orderID string) bool {
	if _, err := c.ledger.Confirm(ctx, orderID); err != nil {
		c.logger.Error("❌ [CONFIRM] Failed to confirm reservations",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		c.retryLater(ctx, orderID)
		return false
	}
	return true
}

// retryLater reagenda a expiração do pedido; ExpireOrder refaz a devolução ou a confirmação
func (c *Coordinator) retryLater(ctx context.Context, orderID string) {
	if c.expiry == nil {
		return
	}
	at := time.Now().Add(retryDelay)
	if err := c.expiry.Schedule(ctx, orderID, at); err != nil {
		c.logger.Error("❌ [EXPIRY] Failed to schedule retry",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return
	}
	c.logger.Info("⏳ [EXPIRY] Retry scheduled",
		zap.String("order_id", orderID),
		zap.Time("at", at),
	)
}

func (c *Coordinator) cancelExpiry(ctx context.Context, orderID string) {
	if c.expiry == nil {
		return
	}
	if err := c.expiry.Cancel(ctx, orderID); err != nil {
		c.logger.Warn("⚠️ [EXPIRY] Failed to cancel scheduled expiry",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, evts ...events.Event) {
	for _, evt := range evts {
		if err := c.publisher.Publish(ctx, evt); err != nil {
			c.logger.Warn("⚠️ [EVENT] Failed to publish",
				zap.String("event", string(evt.Type)),
				zap.String("order_id", evt.OrderID),
				zap.Error(err),
			)
		}
	}
}
