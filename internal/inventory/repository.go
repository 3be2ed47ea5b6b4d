package inventory

import (
	"context"
	"fmt"
	"sync"
)

// Repository define as operações de persistência de estoque.
// DecrementStock precisa ser atômico por (loja, produto): duas chamadas concorrentes
// nunca podem ambas ter sucesso se juntas excedem o estoque disponível.
type Repository interface {
	DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error)
	RestoreStock(ctx context.Context, storeID, productID string, qty int) error
	StockLevel(ctx context.Context, storeID, productID string) (int, error)

	// EligibleStores devolve, na ordem fixa de cadastro, as lojas cujo estoque atende todos os itens
	EligibleStores(ctx context.Context, items []Item) ([]Store, error)
	GetStore(ctx context.Context, storeID string) (*Store, error)
	GetProduct(ctx context.Context, productID string) (*Product, error)

	SaveProduct(ctx context.Context, product Product) error
	SaveStore(ctx context.Context, store Store) error
}

type stockCell struct {
	mu    sync.Mutex
	level int
}

type storeRecord struct {
	store Store
	cells map[string]*stockCell
}

// MemoryRepository mantém o estoque em memória com um lock por (loja, produto)
type MemoryRepository struct {
	mu       sync.RWMutex
	products map[string]Product
	stores   map[string]*storeRecord
	order    []string
}

// NewMemoryRepository cria uma nova instância de MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		products: make(map[string]Product),
		stores:   make(map[string]*storeRecord),
	}
}

// cell devolve a célula de estoque; só a estrutura dos mapas é protegida pelo RWMutex
func (r *MemoryRepository) cell(storeID, productID string, create bool) (*stockCell, error) {
	r.mu.RLock()
	record, ok := r.stores[storeID]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	c, ok := record.cells[productID]
	r.mu.RUnlock()
	if ok || !create {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = record.cells[productID]; !ok {
		c = &stockCell{}
		record.cells[productID] = c
	}
	return c, nil
}

func (r *MemoryRepository) DecrementStock(_ context.Context, storeID, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}

	c, err := r.cell(storeID, productID, false)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level < qty {
		return false, nil
	}
	c.level -= qty
	return true, nil
}

func (r *MemoryRepository) RestoreStock(_ context.Context, storeID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	c, err := r.cell(storeID, productID, true)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.level += qty
	c.mu.Unlock()
	return nil
}

func (r *MemoryRepository) StockLevel(_ context.Context, storeID, productID string) (int, error) {
	c, err := r.cell(storeID, productID, false)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level, nil
}

func (r *MemoryRepository) EligibleStores(_ context.Context, items []Item) ([]Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var eligible []Store
	for _, id := range r.order {
		store := r.snapshot(r.stores[id])
		if store.Satisfies(items) {
			eligible = append(eligible, store)
		}
	}
	return eligible, nil
}

func (r *MemoryRepository) GetStore(_ context.Context, storeID string) (*Store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.stores[storeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	store := r.snapshot(record)
	return &store, nil
}

// snapshot copia a loja com os níveis de estoque atuais; exige r.mu ao menos em leitura
func (r *MemoryRepository) snapshot(record *storeRecord) Store {
	store := record.store
	store.Inventory = make(map[string]int, len(record.cells))
	for productID, c := range record.cells {
		c.mu.Lock()
		store.Inventory[productID] = c.level
		c.mu.Unlock()
	}
	return store
}

func (r *MemoryRepository) GetProduct(_ context.Context, productID string) (*Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return &product, nil
}

func (r *MemoryRepository) SaveProduct(_ context.Context, product Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.products[product.ID] = product
	return nil
}

// SaveStore cadastra ou atualiza uma loja; lojas novas entram no fim da ordem de seleção.
// O estoque informado só vale para produtos que a loja ainda não tem: níveis existentes
// podem estar comprometidos com reservas vivas.
func (r *MemoryRepository) SaveStore(_ context.Context, store Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for productID, level := range store.Inventory {
		if level < 0 {
			return fmt.Errorf("negative stock for %s/%s: %w", store.ID, productID, ErrInvalidQuantity)
		}
	}

	record, exists := r.stores[store.ID]
	if !exists {
		r.order = append(r.order, store.ID)
		record = &storeRecord{cells: make(map[string]*stockCell, len(store.Inventory))}
		r.stores[store.ID] = record
	}
	for productID, level := range store.Inventory {
		if _, stocked := record.cells[productID]; !stocked {
			record.cells[productID] = &stockCell{level: level}
		}
	}

	store.Inventory = nil
	record.store = store
	return nil
}
