package orders

import (
	"testing"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewOrder(t *testing.T) {
	// Arrange
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	items := []OrderItem{
		{ProductID: "prod-1", Quantity: 3, PriceAtPurchase: decimal.RequireFromString("2.50")},
		{ProductID: "prod-3", Quantity: 1, PriceAtPurchase: decimal.RequireFromString("3.00")},
	}

	// Act
	order := NewOrder("order-1", "customer-1", "store-1", inventory.Location{Lat: 1}, items, now)

	// Assert
	assert.Equal(t, "10.50", order.TotalAmount.StringFixed(2))
	assert.Equal(t, OrderStatusSellerPending, order.OrderStatus)
	assert.Equal(t, FulfillmentUnassigned, order.FulfillmentStatus)
	assert.Empty(t, order.DeliveryPartnerID)
	assert.Equal(t, now, order.CreatedAt)
	assert.False(t, order.IsTerminal())
}

func TestOrderStatus_Terminal(t *testing.T) {
	assert.False(t, OrderStatusSellerPending.Terminal())
	assert.False(t, OrderStatusActive.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusCompleted.Terminal())
}

func TestOrder_CloneIsIndependent(t *testing.T) {
	order := NewOrder("order-1", "c", "s", inventory.Location{}, []OrderItem{{ProductID: "p", Quantity: 1}}, time.Now())

	clone := order.Clone()
	clone.Items[0].Quantity = 99
	clone.OrderStatus = OrderStatusActive

	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, OrderStatusSellerPending, order.OrderStatus)
}
