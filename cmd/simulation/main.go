package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheusmosca/hyperlocal-fulfillment/internal/events"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/expiry"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/fulfillment"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/logging"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/orders"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/reservation"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Roda o fluxo completo em memória: pedido aceito e entregue com dois entregadores
// disputando, seguido de um pedido que expira sem resposta do vendedor.
func main() {
	ctx := context.Background()
	logger := logging.New("fulfillment-simulation", "info")
	defer func() { _ = logger.Sync() }()

	stock := inventory.NewMemoryRepository()
	if err := inventory.SeedDemo(ctx, stock); err != nil {
		logger.Fatal("❌ Failed to seed demo data", zap.Error(err))
	}

	recorder := events.NewRecorder()
	publisher := events.MultiPublisher{events.NewLogPublisher(logger), recorder}

	var coordinator *fulfillment.Coordinator
	expired := make(chan string, 1)
	scheduler := expiry.NewTimerScheduler(func(ctx context.Context, orderID string) {
		if ok, _ := coordinator.ExpireOrder(ctx, orderID); ok {
			expired <- orderID
		}
	}, logger)
	defer scheduler.Stop()

	metrics, err := fulfillment.NewMetrics(otel.Meter("fulfillment-simulation"))
	if err != nil {
		logger.Fatal("❌ Failed to create metrics", zap.Error(err))
	}

	inventoryService := inventory.NewService(stock, nil, logger)
	ledger := reservation.NewLedger(inventoryService, reservation.NewMemoryRepository(), 500*time.Millisecond, logger)
	registry := orders.NewRegistry(orders.NewMemoryRepository(), inventoryService, ledger, scheduler, publisher, logger)
	coordinator = fulfillment.NewCoordinator(
		registry, ledger, scheduler, publisher,
		otel.Tracer("fulfillment-simulation"), metrics, logger,
	)

	location := inventory.Location{Lat: 12.9716, Lng: 77.5946}

	// 1. Pedido aceito, disputado e entregue
	order, err := coordinator.PlaceOrder(ctx, "customer-1", location, []inventory.Item{
		{ProductID: "prod-1", Quantity: 2},
		{ProductID: "prod-2", Quantity: 1},
	})
	if err != nil {
		logger.Fatal("❌ Order placement failed", zap.Error(err))
	}
	if _, err := coordinator.SellerAccept(ctx, order.ID); err != nil {
		logger.Fatal("❌ Seller accept failed", zap.Error(err))
	}

	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		mu     sync.Mutex
		winner string
	)
	for _, partnerID := range []string{"partner-a", "partner-b"} {
		wg.Add(1)
		go func(partnerID string) {
			defer wg.Done()
			<-start
			if ok, _ := coordinator.ClaimDelivery(ctx, order.ID, partnerID); ok {
				mu.Lock()
				winner = partnerID
				mu.Unlock()
			}
		}(partnerID)
	}
	close(start)
	wg.Wait()
	logger.Info("ℹ️ Delivery race finished", zap.String("winner", winner))

	for _, status := range []orders.FulfillmentStatus{orders.FulfillmentPickedUp, orders.FulfillmentDelivered} {
		if _, err := coordinator.ReportDeliveryProgress(ctx, order.ID, status); err != nil {
			logger.Fatal("❌ Progress report failed", zap.Error(err))
		}
	}

	// 2. Pedido sem resposta do vendedor
	pending, err := coordinator.PlaceOrder(ctx, "customer-2", location, []inventory.Item{
		{ProductID: "prod-3", Quantity: 3},
	})
	if err != nil {
		logger.Fatal("❌ Order placement failed", zap.Error(err))
	}
	select {
	case <-expired:
	case <-time.After(5 * time.Second):
		logger.Fatal("❌ Pending order did not expire")
	}

	for _, id := range []string{order.ID, pending.ID} {
		final, _ := coordinator.GetOrder(ctx, id)
		fmt.Printf("order %s: %s/%s partner=%q events=%v\n",
			final.ID, final.OrderStatus, final.FulfillmentStatus, final.DeliveryPartnerID, recorder.Types(id))
	}

	for _, product := range []string{"prod-1", "prod-2", "prod-3"} {
		level, _ := inventoryService.StockLevel(ctx, "store-1", product)
		fmt.Printf("store-1 %s: %d\n", product, level)
	}
}
