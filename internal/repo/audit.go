package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InsertAuditLog appends an entry to admin_audit_log.
func (r *PostgresRepository) InsertAuditLog(ctx context.Context, entry AuditEntry) error {
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
	const q = `
INSERT INTO admin_audit_log (id, admin_user_id, action, target_table, target_id, old_values, new_values, ip_address, user_agent, accessed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()));
`
	_, err = r.pool.Exec(ctx, q,
		uuid.NewString(),
		entry.AdminUserID,
		entry.Action,
		entry.TargetTable,
		entry.TargetID,
		jsonParam(oldValues),
		jsonParam(newValues),
		entry.IPAddress,
		entry.UserAgent,
		nullTime(entry.AccessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// RecordWebhookEvent stores a delivery once. It reports false when the event id was already seen.
func (r *PostgresRepository) RecordWebhookEvent(ctx context.Context, evt WebhookEvent) (bool, error) {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if evt.Status == "" {
		evt.Status = "received"
	}
	const q = `
INSERT INTO webhook_events (event_id, event_type, payload, status, received_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (event_id) DO NOTHING;
`
	ct, err := r.pool.Exec(ctx, q, evt.EventID, evt.EventType, jsonParam(evt.Payload), evt.Status, evt.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkWebhookEvent stores the processing outcome of a delivery.
func (r *PostgresRepository) MarkWebhookEvent(ctx context.Context, eventID, status string, at time.Time) error {
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `UPDATE webhook_events SET status = $2, processed_at = $3 WHERE event_id = $1`, eventID, status, at); err != nil {
		return fmt.Errorf("mark webhook event: %w", err)
	}
	return nil
}

func toJSON(val map[string]any) ([]byte, error) {
	if val == nil {
		return nil, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return data, nil
}

func jsonParam(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	return string(data)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
