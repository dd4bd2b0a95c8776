package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// -- Payment orders --

func (r *SQLiteRepository) InsertPaymentOrder(ctx context.Context, order PaymentOrder) (*PaymentOrder, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = OrderStatusCreated
	}
	now := r.now()
	const q = `
INSERT INTO payment_orders (id, order_id, product_id, user_id, amount, currency, status, payment_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (order_id) DO NOTHING;
`
	if _, err := r.db.ExecContext(ctx, q, order.ID, order.OrderID, order.ProductID, order.UserID, order.Amount, order.Currency, order.Status, order.PaymentID, now, now); err != nil {
		return nil, fmt.Errorf("insert payment order: %w", err)
	}
	return r.getPaymentOrder(ctx, order.OrderID)
}

func (r *SQLiteRepository) GetPaymentOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	return r.getPaymentOrder(ctx, orderID)
}

func (r *SQLiteRepository) getPaymentOrder(ctx context.Context, orderID string) (*PaymentOrder, error) {
	const q = `
SELECT id, order_id, product_id, user_id, amount, currency, status, payment_id, created_at, updated_at
FROM payment_orders
WHERE order_id = ?
LIMIT 1;
`
	var o PaymentOrder
	var paymentID sql.NullString
	err := r.db.QueryRowContext(ctx, q, orderID).Scan(&o.ID, &o.OrderID, &o.ProductID, &o.UserID, &o.Amount, &o.Currency, &o.Status, &paymentID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get payment order: %w", err)
	}
	o.PaymentID = nullStringPtr(paymentID)
	return &o, nil
}

func (r *SQLiteRepository) UpdatePaymentOrderStatus(ctx context.Context, orderID, status, paymentID string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
UPDATE payment_orders
SET status = CASE WHEN status = 'captured' THEN status ELSE ? END,
    payment_id = COALESCE(NULLIF(?, ''), payment_id),
    updated_at = ?
WHERE order_id = ?;
`
	res, err := r.db.ExecContext(ctx, q, status, strings.TrimSpace(paymentID), r.now(), orderID)
	if err != nil {
		return fmt.Errorf("update payment order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payment order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

// -- Materials --

func (r *SQLiteRepository) GetMaterial(ctx context.Context, id string) (*Material, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	return r.getMaterial(ctx, id)
}

func (r *SQLiteRepository) getMaterial(ctx context.Context, id string) (*Material, error) {
	q := `SELECT ` + materialColumns + ` FROM study_materials WHERE id = ? LIMIT 1;`
	var m Material
	var description, downloadURL sql.NullString
	err := r.db.QueryRowContext(ctx, q, id).Scan(&m.ID, &m.Title, &description, &m.IsPremium, &m.Price, &m.DurationType, &m.DurationMonths, &downloadURL, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get material: %w", err)
	}
	m.Description = nullStringPtr(description)
	m.DownloadURL = nullStringPtr(downloadURL)
	return &m, nil
}

func (r *SQLiteRepository) UpsertMaterial(ctx context.Context, m Material) (*Material, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := r.now()
	const q = `
INSERT INTO study_materials (id, title, description, is_premium, price, duration_type, duration_months, download_url, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    title = excluded.title,
    description = excluded.description,
    is_premium = excluded.is_premium,
    price = excluded.price,
    duration_type = excluded.duration_type,
    duration_months = excluded.duration_months,
    download_url = excluded.download_url,
    updated_at = excluded.updated_at;
`
	if _, err := r.db.ExecContext(ctx, q, m.ID, m.Title, m.Description, m.IsPremium, m.Price, m.DurationType, m.DurationMonths, m.DownloadURL, now, now); err != nil {
		return nil, fmt.Errorf("upsert material: %w", err)
	}
	return r.getMaterial(ctx, m.ID)
}

func (r *SQLiteRepository) DeleteMaterial(ctx context.Context, id string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM study_materials WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete material: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("material %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Purchases --

const purchaseColumns = `id, user_id, material_id, payment_id, amount, purchased_at, expires_at`

func (r *SQLiteRepository) UpsertPurchase(ctx context.Context, p Purchase) (*Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
INSERT INTO user_purchases (id, user_id, material_id, payment_id, amount, purchased_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, material_id) DO UPDATE SET
    payment_id = excluded.payment_id,
    amount = excluded.amount,
    purchased_at = excluded.purchased_at,
    expires_at = excluded.expires_at;
`
	if _, err := r.db.ExecContext(ctx, q, uuid.NewString(), p.UserID, p.MaterialID, p.PaymentID, p.Amount, p.PurchasedAt.UTC(), utcPtr(p.ExpiresAt)); err != nil {
		return nil, fmt.Errorf("upsert purchase: %w", err)
	}
	return r.getPurchase(ctx, p.UserID, p.MaterialID)
}

func (r *SQLiteRepository) GetPurchase(ctx context.Context, userID, materialID string) (*Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	return r.getPurchase(ctx, userID, materialID)
}

func (r *SQLiteRepository) getPurchase(ctx context.Context, userID, materialID string) (*Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM user_purchases WHERE user_id = ? AND material_id = ? LIMIT 1;`
	p, err := scanSQLitePurchase(r.db.QueryRowContext(ctx, q, userID, materialID))
	if err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) GetPurchaseByPayment(ctx context.Context, paymentID string) (*Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	q := `SELECT ` + purchaseColumns + ` FROM user_purchases WHERE payment_id = ? ORDER BY purchased_at DESC LIMIT 1;`
	p, err := scanSQLitePurchase(r.db.QueryRowContext(ctx, q, paymentID))
	if err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get purchase by payment: %w", err)
	}
	return p, nil
}

func (r *SQLiteRepository) ListPurchasesByUser(ctx context.Context, userID string) ([]Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM user_purchases WHERE user_id = ? ORDER BY purchased_at DESC;`
	return r.listPurchases(ctx, "list user purchases", q, userID)
}

func (r *SQLiteRepository) ListRecentPurchases(ctx context.Context, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + purchaseColumns + ` FROM user_purchases ORDER BY purchased_at DESC LIMIT ?;`
	return r.listPurchases(ctx, "list recent purchases", q, limit)
}

func (r *SQLiteRepository) UpdatePurchaseAmountByPayment(ctx context.Context, paymentID string, amount float64) (int64, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `UPDATE user_purchases SET amount = ? WHERE payment_id = ?`, amount, paymentID)
	if err != nil {
		return 0, fmt.Errorf("update purchase amount: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *SQLiteRepository) listPurchases(ctx context.Context, op, q string, args ...any) ([]Purchase, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []Purchase
	for rows.Next() {
		p, err := scanSQLitePurchase(rows)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLitePurchase(row rowScanner) (*Purchase, error) {
	var p Purchase
	var expires sql.NullTime
	if err := row.Scan(&p.ID, &p.UserID, &p.MaterialID, &p.PaymentID, &p.Amount, &p.PurchasedAt, &expires); err != nil {
		return nil, err
	}
	p.PurchasedAt = p.PurchasedAt.UTC()
	p.ExpiresAt = nullTimePtr(expires)
	return &p, nil
}

// -- OTPs --

func (r *SQLiteRepository) UpsertOTP(ctx context.Context, otp OTP) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
INSERT INTO phone_otps (phone_number, otp_code, expires_at, attempts, created_at)
VALUES (?, ?, ?, 0, ?)
ON CONFLICT (phone_number) DO UPDATE SET
    otp_code = excluded.otp_code,
    expires_at = excluded.expires_at,
    attempts = 0,
    created_at = excluded.created_at;
`
	if _, err := r.db.ExecContext(ctx, q, otp.PhoneNumber, otp.Code, otp.ExpiresAt.UTC(), r.now()); err != nil {
		return fmt.Errorf("upsert otp: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetOTP(ctx context.Context, phone string) (*OTP, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `SELECT phone_number, otp_code, expires_at, attempts, created_at FROM phone_otps WHERE phone_number = ?;`
	var o OTP
	if err := r.db.QueryRowContext(ctx, q, phone).Scan(&o.PhoneNumber, &o.Code, &o.ExpiresAt, &o.Attempts, &o.CreatedAt); err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get otp: %w", err)
	}
	o.ExpiresAt = o.ExpiresAt.UTC()
	return &o, nil
}

func (r *SQLiteRepository) ClaimOTPAttempt(ctx context.Context, phone string, maxAttempts int) (*OTP, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	const q = `
UPDATE phone_otps SET attempts = attempts + 1
WHERE phone_number = ? AND attempts < ?
RETURNING phone_number, otp_code, expires_at, attempts, created_at;
`
	var o OTP
	if err := r.db.QueryRowContext(ctx, q, phone, maxAttempts).Scan(&o.PhoneNumber, &o.Code, &o.ExpiresAt, &o.Attempts, &o.CreatedAt); err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim otp attempt: %w", err)
	}
	o.ExpiresAt = o.ExpiresAt.UTC()
	return &o, nil
}

func (r *SQLiteRepository) DeleteOTP(ctx context.Context, phone string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `DELETE FROM phone_otps WHERE phone_number = ?`, phone); err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	return nil
}

// -- Profiles and roles --

func (r *SQLiteRepository) UpsertProfile(ctx context.Context, p Profile) (*Profile, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	now := r.now()
	const q = `
INSERT INTO profiles (id, username, full_name, avatar_url, phone_number, email, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    full_name = COALESCE(excluded.full_name, profiles.full_name),
    avatar_url = COALESCE(excluded.avatar_url, profiles.avatar_url),
    phone_number = COALESCE(profiles.phone_number, excluded.phone_number),
    email = COALESCE(excluded.email, profiles.email),
    updated_at = excluded.updated_at;
`
	if _, err := r.db.ExecContext(ctx, q, p.ID, p.Username, p.FullName, p.AvatarURL, p.PhoneNumber, p.Email, now, now); err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return r.getProfile(ctx, "id", p.ID)
}

func (r *SQLiteRepository) UpsertProfileByPhone(ctx context.Context, phone, username string) (*Profile, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	now := r.now()
	const q = `
INSERT INTO profiles (id, username, phone_number, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (phone_number) DO UPDATE SET updated_at = excluded.updated_at;
`
	if _, err := r.db.ExecContext(ctx, q, uuid.NewString(), username, phone, now, now); err != nil {
		return nil, fmt.Errorf("upsert profile by phone: %w", err)
	}
	return r.getProfile(ctx, "phone_number", phone)
}

func (r *SQLiteRepository) getProfile(ctx context.Context, column, value string) (*Profile, error) {
	// column is always a constant chosen by this file.
	q := `SELECT ` + profileColumns + ` FROM profiles WHERE ` + column + ` = ? LIMIT 1;`
	var p Profile
	var fullName, avatarURL, phone, email sql.NullString
	err := r.db.QueryRowContext(ctx, q, value).Scan(&p.ID, &p.Username, &fullName, &avatarURL, &phone, &email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if sqlNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	p.FullName = nullStringPtr(fullName)
	p.AvatarURL = nullStringPtr(avatarURL)
	p.PhoneNumber = nullStringPtr(phone)
	p.Email = nullStringPtr(email)
	return &p, nil
}

func (r *SQLiteRepository) GetRole(ctx context.Context, userID string) (string, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	var role string
	if err := r.db.QueryRowContext(ctx, `SELECT role FROM user_roles WHERE user_id = ?`, userID).Scan(&role); err != nil {
		if sqlNotFound(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

func (r *SQLiteRepository) SetRole(ctx context.Context, userID, role string, phone *string) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	now := r.now()
	const q = `
INSERT INTO user_roles (user_id, role, phone_number, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    role = excluded.role,
    phone_number = COALESCE(excluded.phone_number, user_roles.phone_number),
    updated_at = excluded.updated_at;
`
	if _, err := r.db.ExecContext(ctx, q, userID, role, phone, now, now); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	return nil
}

// -- Audit and webhook bookkeeping --

func (r *SQLiteRepository) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	oldValues, err := toJSON(entry.OldValues)
	if err != nil {
		return err
	}
	newValues, err := toJSON(entry.NewValues)
	if err != nil {
		return err
	}
	at := entry.AccessedAt
	if at.IsZero() {
		at = r.now()
	}
	const q = `
INSERT INTO admin_audit_log (id, admin_user_id, action, target_table, target_id, old_values, new_values, ip_address, user_agent, accessed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = r.db.ExecContext(ctx, q,
		uuid.NewString(),
		entry.AdminUserID,
		entry.Action,
		entry.TargetTable,
		entry.TargetID,
		jsonParam(oldValues),
		jsonParam(newValues),
		entry.IPAddress,
		entry.UserAgent,
		at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RecordWebhookEvent(ctx context.Context, evt WebhookEvent) (bool, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if evt.Status == "" {
		evt.Status = "received"
	}
	received := evt.ReceivedAt
	if received.IsZero() {
		received = r.now()
	}
	const q = `
INSERT INTO webhook_events (event_id, event_type, payload, status, received_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (event_id) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, q, evt.EventID, evt.EventType, jsonParam(evt.Payload), evt.Status, received.UTC())
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *SQLiteRepository) MarkWebhookEvent(ctx context.Context, eventID, status string, at time.Time) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET status = ?, processed_at = ? WHERE event_id = ?`, status, at.UTC(), eventID); err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}

// -- Test helpers --

// CountRows returns the number of rows in table. It exists for tests and
// operational checks; table must be a trusted identifier.
func (r *SQLiteRepository) CountRows(ctx context.Context, table string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
