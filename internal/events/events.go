package events

import (
	"context"
	"time"
)

// Type identifica um evento de domínio; os nomes são mantidos por compatibilidade com os consumidores
type Type string

const (
	OrderCreated         Type = "ORDER_CREATED"
	StoreSelected        Type = "STORE_SELECTED"
	OrderOfferedToSeller Type = "ORDER_OFFERED_TO_SELLER"
	SellerAccepted       Type = "SELLER_ACCEPTED"
	SellerRejected       Type = "SELLER_REJECTED"
	DeliveryOffered      Type = "DELIVERY_OFFERED"
	DeliveryAssigned     Type = "DELIVERY_ASSIGNED"
	OrderStatusUpdated   Type = "ORDER_STATUS_UPDATED"
	OrderCompleted       Type = "ORDER_COMPLETED"
)

// Event representa um evento publicado após uma transição de estado
type Event struct {
	Type              Type      `json:"type"`
	OrderID           string    `json:"order_id"`
	CustomerID        string    `json:"customer_id,omitempty"`
	StoreID           string    `json:"store_id,omitempty"`
	SellerID          string    `json:"seller_id,omitempty"`
	OrderStatus       string    `json:"order_status,omitempty"`
	FulfillmentStatus string    `json:"fulfillment_status,omitempty"`
	PartnerID         string    `json:"partner_id,omitempty"`
	TotalAmount       string    `json:"total_amount,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// New cria um evento do tipo informado para o pedido
func New(eventType Type, orderID string) Event {
	return Event{
		Type:       eventType,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher entrega eventos a observadores externos.
// A entrega é best-effort: um erro aqui nunca desfaz uma transição já aplicada.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapta uma função para Publisher
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Nop descarta todos os eventos
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
