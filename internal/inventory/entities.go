package inventory

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrStoreNotFound     = errors.New("store not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Location representa a posição geográfica de uma loja ou cliente
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Product representa um produto do catálogo; imutável depois de criado
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Store representa uma loja com seu estoque por produto
type Store struct {
	ID        string         `json:"id"`
	SellerID  string         `json:"seller_id"`
	Name      string         `json:"name"`
	Location  Location       `json:"location"`
	Inventory map[string]int `json:"inventory"`
}

// Satisfies indica se o estoque da loja cobre todos os itens ao mesmo tempo
func (s Store) Satisfies(items []Item) bool {
	for _, item := range MergeItems(items) {
		if s.Inventory[item.ProductID] < item.Quantity {
			return false
		}
	}
	return true
}

// Item representa uma quantidade pedida de um produto
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// MergeItems soma as quantidades de produtos repetidos, preservando a ordem da primeira ocorrência
func MergeItems(items []Item) []Item {
	index := make(map[string]int, len(items))
	merged := make([]Item, 0, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}
