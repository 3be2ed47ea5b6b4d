package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/cucumber/godog"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/events"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/orders"
)

type fulfillmentTestContext struct {
	t      *testing.T
	f      *fixture
	order  *orders.Order
	err    error
	claims map[string]bool
}

func (c *fulfillmentTestContext) reset() {
	c.f = nil
	c.order = nil
	c.err = nil
	c.claims = make(map[string]bool)
}

func (c *fulfillmentTestContext) theDemoStoresAreStocked() error {
	c.f = newFixture(c.t)
	return nil
}

func (c *fulfillmentTestContext) customerOrders(customerID string, qty1 int, product1 string, qty2 int, product2 string) error {
	c.order, c.err = c.f.coordinator.PlaceOrder(c.f.ctx, customerID, inventory.Location{Lat: 12.97, Lng: 77.59}, []inventory.Item{
		{ProductID: product1, Quantity: qty1},
		{ProductID: product2, Quantity: qty2},
	})
	return nil
}

func (c *fulfillmentTestContext) customerHasAnAcceptedOrder(customerID string, qty1 int, product1 string, qty2 int, product2 string) error {
	if err := c.customerOrders(customerID, qty1, product1, qty2, product2); err != nil {
		return err
	}
	if c.err != nil {
		return fmt.Errorf("placing order: %w", c.err)
	}
	ok, err := c.f.coordinator.SellerAccept(c.f.ctx, c.order.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("seller could not accept the order")
	}
	return nil
}

func (c *fulfillmentTestContext) theOrderIsRejectedBecauseNoStoreIsAvailable() error {
	if !errors.Is(c.err, ErrNoStoreAvailable) {
		return fmt.Errorf("expected no store available, got %v", c.err)
	}
	if c.order != nil {
		return errors.New("expected no order to be created")
	}
	return nil
}

func (c *fulfillmentTestContext) theOrderIsOfferedToSeller(sellerID string) error {
	if c.err != nil {
		return fmt.Errorf("expected order to be placed, got %v", c.err)
	}
	for _, offered := range c.f.recorder.OfType(events.OrderOfferedToSeller) {
		if offered.OrderID == c.order.ID && offered.SellerID == sellerID {
			return nil
		}
	}
	return fmt.Errorf("order %s was not offered to %s", c.order.ID, sellerID)
}

func (c *fulfillmentTestContext) storeHas(storeID string, qty1 int, product1 string, qty2 int, product2 string) error {
	for product, want := range map[string]int{product1: qty1, product2: qty2} {
		got, err := c.f.stock.StockLevel(c.f.ctx, storeID, product)
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("expected %d %s at %s, got %d", want, product, storeID, got)
		}
	}
	return nil
}

func (c *fulfillmentTestContext) theSellerRejectsTheOrder() error {
	ok, err := c.f.coordinator.SellerReject(c.f.ctx, c.order.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("seller rejection was refused")
	}
	return nil
}

func (c *fulfillmentTestContext) theSellerCannotRejectTheOrder() error {
	ok, err := c.f.coordinator.SellerReject(c.f.ctx, c.order.ID)
	if err != nil {
		return err
	}
	if ok {
		return errors.New("expected seller rejection to be refused")
	}
	return nil
}

func (c *fulfillmentTestContext) theOrderIs(orderStatus, fulfillmentStatus string) error {
	order, err := c.f.coordinator.GetOrder(c.f.ctx, c.order.ID)
	if err != nil {
		return err
	}
	if string(order.OrderStatus) != orderStatus || string(order.FulfillmentStatus) != fulfillmentStatus {
		return fmt.Errorf("expected %s/%s, got %s/%s", orderStatus, fulfillmentStatus, order.OrderStatus, order.FulfillmentStatus)
	}
	return nil
}

func (c *fulfillmentTestContext) partnersClaimAtTheSameTime(partnerA, partnerB string) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
		errs  []error
	)
	for _, partnerID := range []string{partnerA, partnerB} {
		wg.Add(1)
		go func(partnerID string) {
			defer wg.Done()
			<-start
			ok, err := c.f.coordinator.ClaimDelivery(c.f.ctx, c.order.ID, partnerID)
			mu.Lock()
			defer mu.Unlock()
			c.claims[partnerID] = ok
			if err != nil {
				errs = append(errs, err)
			}
		}(partnerID)
	}
	close(start)
	wg.Wait()
	return errors.Join(errs...)
}

func (c *fulfillmentTestContext) exactlyOnePartnerWinsTheClaim() error {
	winners := 0
	for _, ok := range c.claims {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		return fmt.Errorf("expected exactly one winner, got %d (%v)", winners, c.claims)
	}
	return nil
}

func (c *fulfillmentTestContext) theLosingPartnerCannotClaimAgain() error {
	for partnerID, won := range c.claims {
		if won {
			continue
		}
		ok, err := c.f.coordinator.ClaimDelivery(c.f.ctx, c.order.ID, partnerID)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("partner %s claimed an already assigned delivery", partnerID)
		}
	}
	return nil
}

func (c *fulfillmentTestContext) partnerClaimsTheDelivery(partnerID string) error {
	ok, err := c.f.coordinator.ClaimDelivery(c.f.ctx, c.order.ID, partnerID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("partner %s could not claim the delivery", partnerID)
	}
	return nil
}

func (c *fulfillmentTestContext) thePartnerReports(status string) error {
	ok, err := c.f.coordinator.ReportDeliveryProgress(c.f.ctx, c.order.ID, orders.FulfillmentStatus(status))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("progress %s was refused", status)
	}
	return nil
}

func (c *fulfillmentTestContext) theReservationExpires() error {
	if c.err != nil {
		return fmt.Errorf("placing order: %w", c.err)
	}
	ok, err := c.f.coordinator.ExpireOrder(c.f.ctx, c.order.ID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("pending order did not expire")
	}
	return nil
}

func (c *fulfillmentTestContext) InitializeScenario(ctx *godog.ScenarioContext) {
	ctx.Before(func(goCtx context.Context, sc *godog.Scenario) (context.Context, error) {
		c.reset()
		return goCtx, nil
	})

	ctx.Step(`^the demo stores are stocked$`, c.theDemoStoresAreStocked)
	ctx.Step(`^customer "([^"]*)" orders (\d+) "([^"]*)" and (\d+) "([^"]*)"$`, c.customerOrders)
	ctx.Step(`^customer "([^"]*)" has an accepted order of (\d+) "([^"]*)" and (\d+) "([^"]*)"$`, c.customerHasAnAcceptedOrder)
	ctx.Step(`^the order is rejected because no store is available$`, c.theOrderIsRejectedBecauseNoStoreIsAvailable)
	ctx.Step(`^the order is offered to seller "([^"]*)"$`, c.theOrderIsOfferedToSeller)
	ctx.Step(`^store "([^"]*)" has (\d+) "([^"]*)" and (\d+) "([^"]*)"$`, c.storeHas)
	ctx.Step(`^the seller rejects the order$`, c.theSellerRejectsTheOrder)
	ctx.Step(`^the seller cannot reject the order$`, c.theSellerCannotRejectTheOrder)
	ctx.Step(`^the order is "([^"]*)" with fulfillment "([^"]*)"$`, c.theOrderIs)
	ctx.Step(`^partners "([^"]*)" and "([^"]*)" claim the delivery at the same time$`, c.partnersClaimAtTheSameTime)
	ctx.Step(`^exactly one partner wins the claim$`, c.exactlyOnePartnerWinsTheClaim)
	ctx.Step(`^the losing partner cannot claim the delivery again$`, c.theLosingPartnerCannotClaimAgain)
	ctx.Step(`^partner "([^"]*)" claims the delivery$`, c.partnerClaimsTheDelivery)
	ctx.Step(`^the partner reports "([^"]*)"$`, c.thePartnerReports)
	ctx.Step(`^the reservation expires$`, c.theReservationExpires)
}

func TestFeatures(t *testing.T) {
	tc := &fulfillmentTestContext{t: t}
	suite := godog.TestSuite{
		ScenarioInitializer: tc.InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/fulfillment.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
