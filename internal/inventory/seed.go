package inventory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DemoProducts é o catálogo usado em desenvolvimento e na simulação
func DemoProducts() []Product {
	return []Product{
		{ID: "prod-1", Name: "Milk", Price: decimal.RequireFromString("2.50")},
		{ID: "prod-2", Name: "Bread", Price: decimal.RequireFromString("1.50")},
		{ID: "prod-3", Name: "Eggs", Price: decimal.RequireFromString("3.00")},
	}
}

// DemoStores devolve as lojas de demonstração na ordem de seleção
func DemoStores() []Store {
	return []Store{
		{
			ID:       "store-1",
			SellerID: "user-seller-1",
			Name:     "Downtown Grocers",
			Location: Location{Lat: 40.7128, Lng: -74.0060},
			Inventory: map[string]int{
				"prod-1": 10,
				"prod-2": 5,
				"prod-3": 20,
			},
		},
		{
			ID:       "store-2",
			SellerID: "user-seller-2",
			Name:     "Uptown Market",
			Location: Location{Lat: 40.7831, Lng: -73.9712},
			Inventory: map[string]int{
				"prod-1": 2,
				"prod-2": 0,
				"prod-3": 10,
			},
		},
	}
}

// SeedDemo cadastra o catálogo e as lojas de demonstração
func SeedDemo(ctx context.Context, repository Repository) error {
	for _, product := range DemoProducts() {
		if err := repository.SaveProduct(ctx, product); err != nil {
			return fmt.Errorf("seed product %s: %w", product.ID, err)
		}
	}
	for _, store := range DemoStores() {
		if err := repository.SaveStore(ctx, store); err != nil {
			return fmt.Errorf("seed store %s: %w", store.ID, err)
		}
	}
	return nil
}
