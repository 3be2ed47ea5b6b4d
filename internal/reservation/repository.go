package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/matheusmosca/hyperlocal-fulfillment/internal/inventory"
)

// Repository guarda a contabilidade das reservas vivas.
// Take remove e devolve as reservas de um pedido de forma atômica: duas chamadas
// concorrentes nunca recebem o mesmo registro.
type Repository interface {
	Save(ctx context.Context, reservations []Reservation) error
	Take(ctx context.Context, orderID string) ([]Reservation, error)
	List(ctx context.Context, orderID string) ([]Reservation, error)
	Deadlines(ctx context.Context) (map[string]time.Time, error)
}

// StockRepository é implementado por repositórios que guardam reservas e estoque no mesmo
// banco: o decremento e a gravação das reservas (ou a remoção e a devolução) acontecem
// numa única transação, e uma queda no meio não deixa estoque sem reserva correspondente.
type StockRepository interface {
	Repository
	// ReserveStock devolve o produto sem estoque suficiente, ou "" quando tudo foi reservado
	ReserveStock(ctx context.Context, reservations []Reservation) (string, error)
	// ReleaseStock remove as reservas do pedido e devolve as quantidades ao estoque
	ReleaseStock(ctx context.Context, orderID string) ([]Reservation, error)
}

// MemoryRepository mantém as reservas em memória
type MemoryRepository struct {
	mu      sync.Mutex
	byOrder map[string][]Reservation
}

// NewMemoryRepository cria uma nova instância de MemoryRepository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byOrder: make(map[string][]Reservation)}
}

func (r *MemoryRepository) Save(_ context.Context, reservations []Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orderID := reservations[0].OrderID
	if _, exists := r.byOrder[orderID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyReserved, orderID)
	}
	r.byOrder[orderID] = append([]Reservation(nil), reservations...)
	return nil
}

func (r *MemoryRepository) Take(_ context.Context, orderID string) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	taken := r.byOrder[orderID]
	delete(r.byOrder, orderID)
	return taken, nil
}

func (r *MemoryRepository) List(_ context.Context, orderID string) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Reservation(nil), r.byOrder[orderID]...), nil
}

func (r *MemoryRepository) Deadlines(_ context.Context) (map[string]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deadlines := make(map[string]time.Time, len(r.byOrder))
	for orderID, batch := range r.byOrder {
		deadlines[orderID] = Deadline(batch)
	}
	return deadlines, nil
}

// PostgresRepository implementa Repository usando PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Save(ctx context.Context, reservations []Reservation) error {
	if len(reservations) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID := reservations[0].OrderID
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check reservations: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyReserved, orderID)
	}

	for _, res := range reservations {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (order_id, store_id, product_id, quantity, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, res.OrderID, res.StoreID, res.ProductID, res.Quantity, res.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reservations: %w", err)
	}
	return nil
}

// Take usa DELETE ... RETURNING: só uma transação recebe as linhas removidas
func (r *PostgresRepository) Take(ctx context.Context, orderID string) ([]Reservation, error) {
	return take(ctx, r.pool, orderID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func take(ctx context.Context, q querier, orderID string) ([]Reservation, error) {
	rows, err := q.Query(ctx, `
		DELETE FROM reservations
		WHERE order_id = $1
		RETURNING order_id, store_id, product_id, quantity, expires_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to take reservations: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

// ReserveStock trava as linhas de estoque (SELECT FOR UPDATE) em ordem de produto,
// decrementa e grava as reservas na mesma transação. Estoque insuficiente desfaz tudo.
func (r *PostgresRepository) ReserveStock(ctx context.Context, reservations []Reservation) (string, error) {
	if len(reservations) == 0 {
		return "", nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	orderID := reservations[0].OrderID
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return "", fmt.Errorf("failed to check reservations: %w", err)
	}
	if exists {
		return "", fmt.Errorf("%w: %s", ErrAlreadyReserved, orderID)
	}

	// ordem fixa de lock entre transações concorrentes
	locked := append([]Reservation(nil), reservations...)
	sort.Slice(locked, func(i, j int) bool {
		if locked[i].StoreID != locked[j].StoreID {
			return locked[i].StoreID < locked[j].StoreID
		}
		return locked[i].ProductID < locked[j].ProductID
	})

	for _, res := range locked {
		if res.Quantity <= 0 {
			return "", inventory.ErrInvalidQuantity
		}

		var stock int
		err := tx.QueryRow(ctx, `
			SELECT stock
			FROM store_inventory
			WHERE store_id = $1 AND product_id = $2
			FOR UPDATE
		`, res.StoreID, res.ProductID).Scan(&stock)
		if errors.Is(err, pgx.ErrNoRows) {
			if err := ensureStore(ctx, tx, res.StoreID); err != nil {
				return "", err
			}
			return res.ProductID, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to get stock for update: %w", err)
		}
		if stock < res.Quantity {
			return res.ProductID, nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE store_inventory
			SET stock = stock - $3,
				updated_at = NOW()
			WHERE store_id = $1 AND product_id = $2
		`, res.StoreID, res.ProductID, res.Quantity)
		if err != nil {
			return "", fmt.Errorf("failed to decrement stock: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO reservations (order_id, store_id, product_id, quantity, expires_at)
			VALUES ($1, $2, $3, $4, $5)
		`, res.OrderID, res.StoreID, res.ProductID, res.Quantity, res.ExpiresAt)
		if err != nil {
			return "", fmt.Errorf("failed to insert reservation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit reservation: %w", err)
	}
	return "", nil
}

// ReleaseStock remove as reservas e devolve o estoque na mesma transação;
// se alguma devolução falhar, as reservas continuam gravadas para uma nova tentativa.
func (r *PostgresRepository) ReleaseStock(ctx context.Context, orderID string) ([]Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	taken, err := take(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(taken) == 0 {
		return nil, nil
	}

	for _, res := range taken {
		tag, err := tx.Exec(ctx, `
			INSERT INTO store_inventory (store_id, product_id, stock, updated_at)
			SELECT id, $2, $3, NOW() FROM stores WHERE id = $1
			ON CONFLICT (store_id, product_id)
			DO UPDATE SET stock = store_inventory.stock + EXCLUDED.stock, updated_at = NOW()
		`, res.StoreID, res.ProductID, res.Quantity)
		if err != nil {
			return nil, fmt.Errorf("failed to restore stock: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("%w: %s", inventory.ErrStoreNotFound, res.StoreID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit release: %w", err)
	}
	return taken, nil
}

func ensureStore(ctx context.Context, tx pgx.Tx, storeID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stores WHERE id = $1)`, storeID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check store: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", inventory.ErrStoreNotFound, storeID)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, orderID string) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, store_id, product_id, quantity, expires_at
		FROM reservations
		WHERE order_id = $1
		ORDER BY product_id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	return scanReservations(rows)
}

func (r *PostgresRepository) Deadlines(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, MIN(expires_at)
		FROM reservations
		GROUP BY order_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deadlines: %w", err)
	}
	defer rows.Close()

	deadlines := make(map[string]time.Time)
	for rows.Next() {
		var orderID string
		var deadline time.Time
		if err := rows.Scan(&orderID, &deadline); err != nil {
			return nil, fmt.Errorf("failed to scan deadline: %w", err)
		}
		deadlines[orderID] = deadline
	}
	return deadlines, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanReservations(rows rowScanner) ([]Reservation, error) {
	var out []Reservation
	for rows.Next() {
		var res Reservation
		if err := rows.Scan(&res.OrderID, &res.StoreID, &res.ProductID, &res.Quantity, &res.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reservations: %w", err)
	}
	return out, nil
}
