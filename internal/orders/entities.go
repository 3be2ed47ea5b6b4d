package orders

import (
	"errors"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrNoStoreAvailable  = errors.New("no store available")
)

// OrderStatus é a dimensão comercial do pedido
type OrderStatus string

const (
	OrderStatusSellerPending OrderStatus = "SELLER_PENDING"
	OrderStatusActive        OrderStatus = "ACTIVE"
	OrderStatusCancelled     OrderStatus = "CANCELLED"
	OrderStatusCompleted     OrderStatus = "COMPLETED"
)

// Terminal indica se nenhuma transição é mais aceita
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusCompleted
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusSellerPending, OrderStatusActive, OrderStatusCancelled, OrderStatusCompleted:
		return true
	}
	return false
}

// FulfillmentStatus é a dimensão de entrega do pedido
type FulfillmentStatus string

const (
	FulfillmentUnassigned        FulfillmentStatus = "UNASSIGNED"
	FulfillmentAssigningDelivery FulfillmentStatus = "ASSIGNING_DELIVERY"
	FulfillmentOnTheWay          FulfillmentStatus = "ON_THE_WAY"
	FulfillmentPickedUp          FulfillmentStatus = "PICKED_UP"
	FulfillmentDelivered         FulfillmentStatus = "DELIVERED"
	// FulfillmentRejectedByAll existe no modelo, mas nada leva a ele enquanto não houver timeout de oferta
	FulfillmentRejectedByAll FulfillmentStatus = "REJECTED_BY_ALL"
)

func (s FulfillmentStatus) Valid() bool {
	switch s {
	case FulfillmentUnassigned, FulfillmentAssigningDelivery, FulfillmentOnTheWay,
		FulfillmentPickedUp, FulfillmentDelivered, FulfillmentRejectedByAll:
		return true
	}
	return false
}

// OrderItem representa um item do pedido com o preço congelado na compra
type OrderItem struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// Order representa um pedido no sistema
type Order struct {
	ID                string             `json:"id"`
	CustomerID        string             `json:"customer_id"`
	StoreID           string             `json:"store_id,omitempty"`
	Location          inventory.Location `json:"location"`
	Items             []OrderItem        `json:"items"`
	TotalAmount       decimal.Decimal    `json:"total_amount"`
	OrderStatus       OrderStatus        `json:"order_status"`
	FulfillmentStatus FulfillmentStatus  `json:"fulfillment_status"`
	DeliveryPartnerID string             `json:"delivery_partner_id,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// NewOrder cria um pedido pendente de aceite do vendedor; o total é calculado aqui e não muda mais
func NewOrder(id, customerID, storeID string, location inventory.Location, items []OrderItem, now time.Time) *Order {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.PriceAtPurchase.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return &Order{
		ID:                id,
		CustomerID:        customerID,
		StoreID:           storeID,
		Location:          location,
		Items:             items,
		TotalAmount:       total,
		OrderStatus:       OrderStatusSellerPending,
		FulfillmentStatus: FulfillmentUnassigned,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// IsTerminal indica se o pedido foi cancelado ou concluído
func (o *Order) IsTerminal() bool {
	return o.OrderStatus.Terminal()
}

// Clone devolve uma cópia independente do pedido
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return &c
}
