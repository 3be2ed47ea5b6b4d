package handlers

import (
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/orders"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
)

// CreateOrderRequest representa a requisição de criação de pedido
type CreateOrderRequest struct {
	CustomerID string             `json:"customer_id" binding:"required"`
	Location   inventory.Location `json:"location"`
	Items      []ItemRequest      `json:"items" binding:"required,min=1,dive"`
}

// ItemRequest representa um item pedido
type ItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
}

// ClaimDeliveryRequest representa a disputa de um entregador pelo pedido
type ClaimDeliveryRequest struct {
	PartnerID string `json:"partner_id" binding:"required"`
}

// ProgressRequest representa uma atualização de andamento da entrega
type ProgressRequest struct {
	Status orders.FulfillmentStatus `json:"status" binding:"required"`
}

// OrderResponse é o pedido com as reservas que ainda seguram estoque
type OrderResponse struct {
	*orders.Order
	Reservations []reservation.Reservation `json:"reservations"`
}

func (r CreateOrderRequest) items() []inventory.Item {
	items := make([]inventory.Item, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, inventory.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return items
}
