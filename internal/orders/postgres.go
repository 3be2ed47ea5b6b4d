package orders

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

func (r *PostgresRepository) Create(ctx context.Context, order *Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, customer_id, store_id, lat, lng, total_amount, order_status,
		                    fulfillment_status, delivery_partner_id, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6::numeric, $7, $8, NULLIF($9, ''), $10, $11)
	`,
		order.ID, order.CustomerID, order.StoreID, order.Location.Lat, order.Location.Lng,
		order.TotalAmount.String(), string(order.OrderStatus), string(order.FulfillmentStatus),
		order.DeliveryPartnerID, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, position, product_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4, $5::numeric)
		`, order.ID, i, item.ProductID, item.Quantity, item.PriceAtPurchase.String())
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, orderID string) (*Order, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	return r.load(ctx, tx, orderID, false)
}

// Update trava a linha do pedido (SELECT FOR UPDATE) durante toda a verificação e escrita
func (r *PostgresRepository) Update(ctx context.Context, orderID string, mutate MutateFunc) (*Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := r.load(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}

	if err := mutate(order); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET order_status = $2,
			fulfillment_status = $3,
			delivery_partner_id = NULLIF($4, ''),
			updated_at = $5
		WHERE id = $1
	`, order.ID, string(order.OrderStatus), string(order.FulfillmentStatus), order.DeliveryPartnerID, order.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order update: %w", err)
	}
	return order, nil
}

func (r *PostgresRepository) load(ctx context.Context, tx pgx.Tx, orderID string, forUpdate bool) (*Order, error) {
	query := `
		SELECT id, customer_id, COALESCE(store_id, ''), lat, lng, total_amount::text, order_status,
		       fulfillment_status, COALESCE(delivery_partner_id, ''), created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		order                    Order
		total                    string
		orderStatus, fulfillment string
	)
	err := tx.QueryRow(ctx, query, orderID).Scan(
		&order.ID, &order.CustomerID, &order.StoreID, &order.Location.Lat, &order.Location.Lng,
		&total, &orderStatus, &fulfillment, &order.DeliveryPartnerID, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	order.OrderStatus = OrderStatus(orderStatus)
	order.FulfillmentStatus = FulfillmentStatus(fulfillment)
	if order.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total for order %s: %w", orderID, err)
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, quantity, price_at_purchase::text
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item OrderItem
		var price string
		if err := rows.Scan(&item.ProductID, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		if item.PriceAtPurchase, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("invalid price for order %s: %w", orderID, err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read order items: %w", err)
	}

	return &order, nil
}

// Delete remove o pedido; os itens saem em cascata
func (r *PostgresRepository) Delete(ctx context.Context, orderID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID); err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return nil
}
