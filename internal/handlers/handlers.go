package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/fulfillment"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/orders"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CoordinatorInterface define a interface para o coordenador de pedidos
type CoordinatorInterface interface {
	PlaceOrder(ctx context.Context, customerID string, location inventory.Location, items []inventory.Item) (*orders.Order, error)
	SellerAccept(ctx context.Context, orderID string) (bool, error)
	SellerReject(ctx context.Context, orderID string) (bool, error)
	ClaimDelivery(ctx context.Context, orderID, partnerID string) (bool, error)
	ReportDeliveryProgress(ctx context.Context, orderID string, status orders.FulfillmentStatus) (bool, error)
	ReportDelivered(ctx context.Context, orderID string) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
}

// ReservationReader lista as reservas vivas de um pedido
type ReservationReader interface {
	Live(ctx context.Context, orderID string) ([]reservation.Reservation, error)
}

// StoreReader consulta lojas e seu estoque
type StoreReader interface {
	GetStore(ctx context.Context, storeID string) (*inventory.Store, error)
}

// OrderHandler contém os handlers HTTP
type OrderHandler struct {
	coordinator  CoordinatorInterface
	reservations ReservationReader
	stores       StoreReader
	serviceName  string
}

// NewOrderHandler cria uma nova instância de OrderHandler
func NewOrderHandler(coordinator CoordinatorInterface, reservations ReservationReader, stores StoreReader, serviceName string) *OrderHandler {
	return &OrderHandler{
		coordinator:  coordinator,
		reservations: reservations,
		stores:       stores,
		serviceName:  serviceName,
	}
}

// CreateOrder cria um pedido reservando o estoque na primeira loja elegível
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	span := trace.SpanFromContext(ctx)

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("customer_id", req.CustomerID),
		attribute.Int("items", len(req.Items)),
	)

	order, err := h.coordinator.PlaceOrder(ctx, req.CustomerID, req.Location, req.items())
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, orders.ErrInvalidOrder):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, fulfillment.ErrNoStoreAvailable):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "NO_STORE_AVAILABLE"})
		case errors.Is(err, fulfillment.ErrReservationConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "RESERVATION_CONFLICT"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	span.SetAttributes(attribute.String("order_id", order.ID))
	c.JSON(http.StatusCreated, order)
}

// GetOrder devolve o pedido e as reservas ainda vivas
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	order, err := h.coordinator.GetOrder(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": orders.ErrOrderNotFound.Error()})
		return
	}

	live, err := h.reservations.Live(ctx, orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if live == nil {
		live = []reservation.Reservation{}
	}

	c.JSON(http.StatusOK, OrderResponse{Order: order, Reservations: live})
}

// AcceptOrder registra o aceite do vendedor
func (h *OrderHandler) AcceptOrder(c *gin.Context) {
	ok, err := h.coordinator.SellerAccept(c.Request.Context(), c.Param("id"))
	respondTransition(c, ok, err)
}

// RejectOrder registra a recusa do vendedor
func (h *OrderHandler) RejectOrder(c *gin.Context) {
	ok, err := h.coordinator.SellerReject(c.Request.Context(), c.Param("id"))
	respondTransition(c, ok, err)
}

// ClaimDelivery disputa a entrega do pedido; quem perde recebe 409
func (h *OrderHandler) ClaimDelivery(c *gin.Context) {
	var req ClaimDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("partner_id", req.PartnerID))

	ok, err := h.coordinator.ClaimDelivery(ctx, c.Param("id"), req.PartnerID)
	respondTransition(c, ok, err)
}

// ReportProgress atualiza o andamento da entrega
func (h *OrderHandler) ReportProgress(c *gin.Context) {
	var req ProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown fulfillment status " + string(req.Status)})
		return
	}

	ok, err := h.coordinator.ReportDeliveryProgress(c.Request.Context(), c.Param("id"), req.Status)
	respondTransition(c, ok, err)
}

// ReportDelivered conclui a entrega
func (h *OrderHandler) ReportDelivered(c *gin.Context) {
	ok, err := h.coordinator.ReportDelivered(c.Request.Context(), c.Param("id"))
	respondTransition(c, ok, err)
}

// GetStore devolve a loja e o estoque disponível
func (h *OrderHandler) GetStore(c *gin.Context) {
	store, err := h.stores.GetStore(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, inventory.ErrStoreNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, store)
}

// HealthCheck verifica a saúde do serviço
func (h *OrderHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

// respondTransition mapeia o resultado booleano das operações de estado:
// false significa pedido desconhecido ou pré-condição não atendida
func respondTransition(c *gin.Context, ok bool, err error) {
	switch {
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case !ok:
		c.JSON(http.StatusConflict, gin.H{"result": "rejected"})
	default:
		c.JSON(http.StatusOK, gin.H{"result": "success"})
	}
}
