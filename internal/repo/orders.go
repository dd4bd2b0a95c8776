package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// InsertPaymentOrder stores a new gateway order. Re-inserting a known order_id
// returns the existing row untouched.
func (r *PostgresRepository) InsertPaymentOrder(ctx context.Context, order PaymentOrder) (*PaymentOrder, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = OrderStatusCreated
	}
	const q = `
INSERT INTO payment_orders (id, order_id, product_id, user_id, amount, currency, status, payment_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (order_id) DO UPDATE SET order_id = EXCLUDED.order_id
RETURNING id, order_id, product_id, user_id, amount, currency, status, payment_id, created_at, updated_at;
`
	row := r.pool.QueryRow(ctx, q,
		order.ID,
		order.OrderID,
		order.ProductID,
		order.UserID,
		order.Amount,
		order.Currency,
		order.Status,
		order.PaymentID,
	)

	var o PaymentOrder
	if err := row.Scan(&o.ID, &o.OrderID, &o.ProductID, &o.UserID, &o.Amount, &o.Currency, &o.Status, &o.PaymentID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert payment order: %w", err)
	}
	return &o, nil
}

// GetPaymentOrder fetches an order by its gateway order id.
func (r *PostgresRepository) GetPaymentOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
SELECT id, order_id, product_id, user_id, amount, currency, status, payment_id, created_at, updated_at
FROM payment_orders
WHERE order_id = $1
LIMIT 1;
`
	var o PaymentOrder
	err := r.pool.QueryRow(ctx, q, orderID).Scan(&o.ID, &o.OrderID, &o.ProductID, &o.UserID, &o.Amount, &o.Currency, &o.Status, &o.PaymentID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment order: %w", err)
	}
	return &o, nil
}

// UpdatePaymentOrderStatus moves an order to status and stores the payment id.
// A captured order stays captured.
func (r *PostgresRepository) UpdatePaymentOrderStatus(ctx context.Context, orderID, status, paymentID string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
UPDATE payment_orders
SET status = CASE WHEN status = 'captured' THEN status ELSE $2 END,
    payment_id = COALESCE(NULLIF($3, ''), payment_id),
    updated_at = NOW()
WHERE order_id = $1;
`
	ct, err := r.pool.Exec(ctx, q, orderID, status, strings.TrimSpace(paymentID))
	if err != nil {
		return fmt.Errorf("update payment order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("payment order %s: %w", orderID, ErrNotFound)
	}
	return nil
}
