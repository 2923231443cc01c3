package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// EnsureDefaultAccount creates the default account row if it does not exist
// and returns its id. Live orders reference this account until multi-user
// support lands.
func (r *Repository) EnsureDefaultAccount(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO account (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure default account: %w", err)
	}
	return id, nil
}

const orderColumns = `id, account_id, order_uuid, market, side, ord_type, price, amount, status, created_at, updated_at`

// InsertOrder persists a newly placed order.
func (r *Repository) InsertOrder(ctx context.Context, o *TradeOrder) (int64, error) {
	query := `
		INSERT INTO trade_order (account_id, order_uuid, market, side, ord_type, price, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := r.db.Pool.QueryRow(ctx, query,
		o.AccountID, o.OrderUUID, o.Market, o.Side, o.OrdType, o.Price, o.Amount, o.Status,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert order: %w", err)
	}
	return id, nil
}

// UpdateOrderStatus advances an order's status after a sync with the exchange.
func (r *Repository) UpdateOrderStatus(ctx context.Context, orderUUID, status string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE trade_order SET status = $1, updated_at = NOW() WHERE order_uuid = $2`,
		status, orderUUID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindOrderByUUID returns a locally stored order by its exchange UUID.
func (r *Repository) FindOrderByUUID(ctx context.Context, orderUUID string) (*TradeOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM trade_order WHERE order_uuid = $1`

	var o TradeOrder
	err := r.db.Pool.QueryRow(ctx, query, orderUUID).Scan(
		&o.ID, &o.AccountID, &o.OrderUUID, &o.Market, &o.Side, &o.OrdType,
		&o.Price, &o.Amount, &o.Status, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}
	return &o, nil
}

// FindOrders returns locally stored orders, newest first. An empty status
// returns all orders.
func (r *Repository) FindOrders(ctx context.Context, status string, limit int) ([]TradeOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM trade_order`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := []TradeOrder{}
	for rows.Next() {
		var o TradeOrder
		err := rows.Scan(
			&o.ID, &o.AccountID, &o.OrderUUID, &o.Market, &o.Side, &o.OrdType,
			&o.Price, &o.Amount, &o.Status, &o.CreatedAt, &o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}

	return orders, nil
}

// CountOrdersSince counts orders created at or after t. Backs the daily
// trade cap check.
func (r *Repository) CountOrdersSince(ctx context.Context, t time.Time) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM trade_order WHERE created_at >= $1`, t).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}
