package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const materialColumns = `id, title, description, is_premium, price, duration_type, duration_months, download_url, created_at, updated_at`

// GetMaterial loads a study material by id.
func (r *PostgresRepository) GetMaterial(ctx context.Context, id string) (*Material, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	q := `SELECT ` + materialColumns + ` FROM study_materials WHERE id = $1 LIMIT 1;`
	var m Material
	err := r.pool.QueryRow(ctx, q, id).Scan(&m.ID, &m.Title, &m.Description, &m.IsPremium, &m.Price, &m.DurationType, &m.DurationMonths, &m.DownloadURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get material: %w", err)
	}
	return &m, nil
}

// UpsertMaterial creates or replaces a study material.
func (r *PostgresRepository) UpsertMaterial(ctx context.Context, m Material) (*Material, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	q := `
INSERT INTO study_materials (id, title, description, is_premium, price, duration_type, duration_months, download_url)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    description = EXCLUDED.description,
    is_premium = EXCLUDED.is_premium,
    price = EXCLUDED.price,
    duration_type = EXCLUDED.duration_type,
    duration_months = EXCLUDED.duration_months,
    download_url = EXCLUDED.download_url,
    updated_at = NOW()
RETURNING ` + materialColumns + `;`

	var out Material
	err := r.pool.QueryRow(ctx, q, m.ID, m.Title, m.Description, m.IsPremium, m.Price, m.DurationType, m.DurationMonths, m.DownloadURL).
		Scan(&out.ID, &out.Title, &out.Description, &out.IsPremium, &out.Price, &out.DurationType, &out.DurationMonths, &out.DownloadURL, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert material: %w", err)
	}
	return &out, nil
}

// DeleteMaterial removes a study material and, by cascade, its purchases.
func (r *PostgresRepository) DeleteMaterial(ctx context.Context, id string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	ct, err := r.pool.Exec(ctx, `DELETE FROM study_materials WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("material %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertPurchase records an entitlement; the latest write for (user, material) wins.
func (r *PostgresRepository) UpsertPurchase(ctx context.Context, p Purchase) (*Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
INSERT INTO user_purchases (id, user_id, material_id, payment_id, amount, purchased_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, material_id) DO UPDATE SET
    payment_id = EXCLUDED.payment_id,
    amount = EXCLUDED.amount,
    purchased_at = EXCLUDED.purchased_at,
    expires_at = EXCLUDED.expires_at
RETURNING id, user_id, material_id, payment_id, amount, purchased_at, expires_at;
`
	row := r.pool.QueryRow(ctx, q, uuid.NewString(), p.UserID, p.MaterialID, p.PaymentID, p.Amount, p.PurchasedAt, p.ExpiresAt)
	out, err := scanPurchase(row)
	if err != nil {
		return nil, fmt.Errorf("upsert purchase: %w", err)
	}
	return out, nil
}

// GetPurchase returns the entitlement for (user, material).
func (r *PostgresRepository) GetPurchase(ctx context.Context, userID, materialID string) (*Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
SELECT id, user_id, material_id, payment_id, amount, purchased_at, expires_at
FROM user_purchases
WHERE user_id = $1 AND material_id = $2
LIMIT 1;
`
	out, err := scanPurchase(r.pool.QueryRow(ctx, q, userID, materialID))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return out, nil
}

// GetPurchaseByPayment returns the entitlement currently carried by paymentID.
func (r *PostgresRepository) GetPurchaseByPayment(ctx context.Context, paymentID string) (*Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
SELECT id, user_id, material_id, payment_id, amount, purchased_at, expires_at
FROM user_purchases
WHERE payment_id = $1
ORDER BY purchased_at DESC
LIMIT 1;
`
	out, err := scanPurchase(r.pool.QueryRow(ctx, q, paymentID))
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase by payment: %w", err)
	}
	return out, nil
}

// ListPurchasesByUser returns every entitlement owned by userID, newest first.
func (r *PostgresRepository) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	const q = `
SELECT id, user_id, material_id, payment_id, amount, purchased_at, expires_at
FROM user_purchases
WHERE user_id = $1
ORDER BY purchased_at DESC;
`
	return r.listPurchases(ctx, "list user purchases", q, userID)
}

// ListRecentPurchases returns the latest entitlements across all users.
func (r *PostgresRepository) ListRecentPurchases(ctx context.Context, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT id, user_id, material_id, payment_id, amount, purchased_at, expires_at
FROM user_purchases
ORDER BY purchased_at DESC
LIMIT $1;
`
	return r.listPurchases(ctx, "list recent purchases", q, limit)
}

// UpdatePurchaseAmountByPayment sets the gateway-confirmed amount on purchases of paymentID.
func (r *PostgresRepository) UpdatePurchaseAmountByPayment(ctx context.Context, paymentID string, amount float64) (int64, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	ct, err := r.pool.Exec(ctx, `UPDATE user_purchases SET amount = $2 WHERE payment_id = $1`, paymentID, amount)
	if err != nil {
		return 0, fmt.Errorf("update purchase amount: %w", err)
	}
	return ct.RowsAffected(), nil
}

func (r *PostgresRepository) listPurchases(ctx context.Context, op, q string, args ...any) ([]Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return out, nil
}

func scanPurchase(row pgx.Row) (*Purchase, error) {
	var p Purchase
	var expires *time.Time
	if err := row.Scan(&p.ID, &p.UserID, &p.MaterialID, &p.PaymentID, &p.Amount, &p.PurchasedAt, &expires); err != nil {
		return nil, err
	}
	p.ExpiresAt = expires
	return &p, nil
}
