package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Selector escolhe uma loja entre candidatas que já atendem todos os itens.
// As candidatas chegam na ordem fixa de cadastro; ok=false significa nenhuma escolha.
type Selector func(location Location, candidates []Store) (store Store, ok bool)

// FirstMatch escolhe a primeira candidata na ordem de cadastro
func FirstMatch(_ Location, candidates []Store) (Store, bool) {
	if len(candidates) == 0 {
		return Store{}, false
	}
	return candidates[0], true
}

// Service expõe o estoque para o restante do núcleo
type Service struct {
	repository Repository
	selector   Selector
	logger     *zap.Logger
}

// NewService cria uma nova instância de Service; selector nil usa FirstMatch
func NewService(repository Repository, selector Selector, logger *zap.Logger) *Service {
	if selector == nil {
		selector = FirstMatch
	}
	return &Service{
		repository: repository,
		selector:   selector,
		logger:     logger,
	}
}

// DecrementStock reduz o estoque se houver quantidade suficiente; false sem alterar nada caso contrário
func (s *Service) DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error) {
	ok, err := s.repository.DecrementStock(ctx, storeID, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement %s/%s: %w", storeID, productID, err)
	}
	if !ok {
		s.logger.Info("❌ [DECREMENT] Insufficient stock",
			zap.String("store_id", storeID),
			zap.String("product_id", productID),
			zap.Int("quantity", qty),
		)
	}
	return ok, nil
}

// RestoreStock devolve ao estoque uma quantidade previamente decrementada
func (s *Service) RestoreStock(ctx context.Context, storeID, productID string, qty int) error {
	if err := s.repository.RestoreStock(ctx, storeID, productID, qty); err != nil {
		return fmt.Errorf("restore %s/%s: %w", storeID, productID, err)
	}
	return nil
}

// FindEligibleStore devolve a loja cujo estoque atual atende todos os itens, ou nil se nenhuma atende
func (s *Service) FindEligibleStore(ctx context.Context, location Location, items []Item) (*Store, error) {
	if len(items) == 0 {
		return nil, nil
	}

	candidates, err := s.repository.EligibleStores(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("find eligible store: %w", err)
	}

	store, ok := s.selector(location, candidates)
	if !ok {
		s.logger.Info("ℹ️ [SELECT STORE] No store satisfies the request", zap.Int("items", len(items)))
		return nil, nil
	}
	return &store, nil
}

// GetProduct busca um produto do catálogo
func (s *Service) GetProduct(ctx context.Context, productID string) (*Product, error) {
	return s.repository.GetProduct(ctx, productID)
}

// GetStore busca uma loja com os níveis de estoque atuais
func (s *Service) GetStore(ctx context.Context, storeID string) (*Store, error) {
	return s.repository.GetStore(ctx, storeID)
}

// StockLevel consulta o estoque visível de um produto em uma loja
func (s *Service) StockLevel(ctx context.Context, storeID, productID string) (int, error) {
	return s.repository.StockLevel(ctx, storeID, productID)
}
