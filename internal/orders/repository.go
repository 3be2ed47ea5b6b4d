package orders

import (
	"context"
	"fmt"
	"sync"
)

// MutateFunc altera o pedido dentro da seção atômica; devolver erro descarta a alteração
type MutateFunc func(order *Order) error

// Repository define a persistência de pedidos.
// Update executa ler-checar-escrever como uma única seção crítica por pedido.
type Repository interface {
	Create(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	Update(ctx context.Context, orderID string, mutate MutateFunc) (*Order, error)
	Delete(ctx context.Context, orderID string) error
}

type orderEntry struct {
	mu    sync.Mutex
	order *Order
}

// MemoryRepository mantém os pedidos em memória com um lock por pedido
type MemoryRepository struct {
	mu      sync.RWMutex
	entries map[string]*orderEntry
}

// NewMemoryRepository cria uma nova instância de MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]*orderEntry)}
}

func (r *MemoryRepository) Create(_ context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	r.entries[order.ID] = &orderEntry{order: order.Clone()}
	return nil
}

func (r *MemoryRepository) entry(orderID string) (*orderEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return e, nil
}

func (r *MemoryRepository) Get(_ context.Context, orderID string) (*Order, error) {
	e, err := r.entry(orderID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, orderID string, mutate MutateFunc) (*Order, error) {
	e, err := r.entry(orderID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.order.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	e.order = next
	return next.Clone(), nil
}

// Delete remove o pedido; pedido desconhecido não é erro
func (r *MemoryRepository) Delete(_ context.Context, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, orderID)
	return nil
}
