package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresRepository implementa Repository usando PostgreSQL com lock pessimista
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository cria uma nova instância de PostgresRepository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// DecrementStock trava a linha (SELECT FOR UPDATE), valida o estoque e decrementa na mesma transação
func (r *PostgresRepository) DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, ErrInvalidQuantity
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var stock int
	err = tx.QueryRow(ctx, `
		SELECT stock
		FROM store_inventory
		WHERE store_id = $1 AND product_id = $2
		FOR UPDATE
	`, storeID, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, r.ensureStore(ctx, tx, storeID)
		}
		return false, fmt.Errorf("failed to get stock for update: %w", err)
	}

	if stock < qty {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE store_inventory
		SET stock = stock - $3,
			updated_at = NOW()
		WHERE store_id = $1 AND product_id = $2
	`, storeID, productID, qty)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit decrement: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) ensureStore(ctx context.Context, tx pgx.Tx, storeID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stores WHERE id = $1)`, storeID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check store: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	return nil
}

func (r *PostgresRepository) RestoreStock(ctx context.Context, storeID, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO store_inventory (store_id, product_id, stock, updated_at)
		SELECT id, $2, $3, NOW() FROM stores WHERE id = $1
		ON CONFLICT (store_id, product_id)
		DO UPDATE SET stock = store_inventory.stock + EXCLUDED.stock, updated_at = NOW()
	`, storeID, productID, qty)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
	}
	return nil
}

func (r *PostgresRepository) StockLevel(ctx context.Context, storeID, productID string) (int, error) {
	var stock int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(si.stock, 0)
		FROM stores s
		LEFT JOIN store_inventory si ON si.store_id = s.id AND si.product_id = $2
		WHERE s.id = $1
	`, storeID, productID).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
		}
		return 0, fmt.Errorf("failed to query stock level: %w", err)
	}
	return stock, nil
}

// EligibleStores filtra no banco as lojas que atendem todos os itens, na ordem de cadastro
func (r *PostgresRepository) EligibleStores(ctx context.Context, items []Item) ([]Store, error) {
	merged := MergeItems(items)
	productIDs := make([]string, len(merged))
	quantities := make([]int32, len(merged))
	for i, item := range merged {
		productIDs[i] = item.ProductID
		quantities[i] = int32(item.Quantity)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.seller_id, s.name, s.lat, s.lng
		FROM stores s
		WHERE NOT EXISTS (
			SELECT 1
			FROM unnest($1::text[], $2::int[]) AS req(product_id, quantity)
			LEFT JOIN store_inventory si ON si.store_id = s.id AND si.product_id = req.product_id
			WHERE COALESCE(si.stock, 0) < req.quantity
		)
		ORDER BY s.position
	`, productIDs, quantities)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible stores: %w", err)
	}

	var stores []Store
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.SellerID, &s.Name, &s.Location.Lat, &s.Location.Lng); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stores: %w", err)
	}

	for i := range stores {
		inventory, err := r.loadInventory(ctx, stores[i].ID)
		if err != nil {
			return nil, err
		}
		stores[i].Inventory = inventory
	}
	return stores, nil
}

func (r *PostgresRepository) GetStore(ctx context.Context, storeID string) (*Store, error) {
	var s Store
	err := r.pool.QueryRow(ctx, `
		SELECT id, seller_id, name, lat, lng
		FROM stores
		WHERE id = $1
	`, storeID).Scan(&s.ID, &s.SellerID, &s.Name, &s.Location.Lat, &s.Location.Lng)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, storeID)
		}
		return nil, fmt.Errorf("failed to get store: %w", err)
	}

	s.Inventory, err = r.loadInventory(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) loadInventory(ctx context.Context, storeID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT product_id, stock
		FROM store_inventory
		WHERE store_id = $1
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory: %w", err)
	}
	defer rows.Close()

	inventory := make(map[string]int)
	for rows.Next() {
		var productID string
		var stock int
		if err := rows.Scan(&productID, &stock); err != nil {
			return nil, fmt.Errorf("failed to scan inventory: %w", err)
		}
		inventory[productID] = stock
	}
	return inventory, rows.Err()
}

func (r *PostgresRepository) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	var price string
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, price::text
		FROM products
		WHERE id = $1
	`, productID).Scan(&p.ID, &p.Name, &price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	p.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid price for product %s: %w", productID, err)
	}
	return &p, nil
}

func (r *PostgresRepository) SaveProduct(ctx context.Context, product Product) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, name, price)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price
	`, product.ID, product.Name, product.Price.String())
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// SaveStore grava o estoque inicial apenas de produtos ainda sem linha em store_inventory
func (r *PostgresRepository) SaveStore(ctx context.Context, store Store) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO stores (id, seller_id, name, lat, lng)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET seller_id = EXCLUDED.seller_id, name = EXCLUDED.name, lat = EXCLUDED.lat, lng = EXCLUDED.lng
	`, store.ID, store.SellerID, store.Name, store.Location.Lat, store.Location.Lng)
	if err != nil {
		return fmt.Errorf("failed to save store: %w", err)
	}

	for productID, level := range store.Inventory {
		if level < 0 {
			return fmt.Errorf("negative stock for %s/%s: %w", store.ID, productID, ErrInvalidQuantity)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO store_inventory (store_id, product_id, stock, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (store_id, product_id) DO NOTHING
		`, store.ID, productID, level)
		if err != nil {
			return fmt.Errorf("failed to save inventory for %s: %w", productID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit store: %w", err)
	}
	return nil
}
